package kaggle

import (
	"os"
	"path/filepath"
	"strings"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
)

// Credentials authenticate against the Kaggle public API.
type Credentials struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Username) != "" && strings.TrimSpace(c.Key) != ""
}

// LoadCredentials resolves credentials from the KAGGLE_USERNAME/KAGGLE_KEY
// environment variables first, then from the credential file (the standard
// ~/.kaggle/kaggle.json when filePath is empty). A missing credential source
// is not an error here; callers check Valid and surface the fetch-time
// failure themselves.
func LoadCredentials(filePath string) (Credentials, error) {
	creds := Credentials{
		Username: strings.TrimSpace(os.Getenv("KAGGLE_USERNAME")),
		Key:      strings.TrimSpace(os.Getenv("KAGGLE_KEY")),
	}
	if creds.Valid() {
		return creds, nil
	}

	if strings.TrimSpace(filePath) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Credentials{}, nil
		}
		filePath = filepath.Join(home, ".kaggle", "kaggle.json")
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, nil
		}
		return Credentials{}, crerr.Wrapf(err, "read credential file %s", filePath)
	}

	var fromFile Credentials
	if err := sonic.Unmarshal(raw, &fromFile); err != nil {
		return Credentials{}, crerr.Wrapf(err, "parse credential file %s", filePath)
	}
	fromFile.Username = strings.TrimSpace(fromFile.Username)
	fromFile.Key = strings.TrimSpace(fromFile.Key)

	return fromFile, nil
}
