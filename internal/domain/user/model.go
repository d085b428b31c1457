package user

import (
	"strings"
	"time"
)

const profileBaseURL = "https://www.kaggle.com/"

// Record is one row of the Users source. Immutable once fetched; one row
// per distinct user id.
type Record struct {
	ID              int64
	UserName        string
	DisplayName     string
	PerformanceTier int
	Country         string // empty when the profile has no country set
	RegisteredAt    time.Time
}

func (r Record) ProfileURL() string {
	name := strings.TrimSpace(r.UserName)
	if name == "" {
		return ""
	}
	return profileBaseURL + name
}
