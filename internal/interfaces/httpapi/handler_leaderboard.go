package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kaggleviz/country-leaderboard/internal/domain/leaderboard"
	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

type leaderboardQueryRequest struct {
	Country         string `validate:"max=100"`
	AchievementType string `validate:"max=32"`
	MaxRows         int    `validate:"min=0"`
}

type leaderboardEntryDTO struct {
	Rank            int      `json:"rank"`
	UserName        string   `json:"userName"`
	DisplayName     string   `json:"displayName"`
	Country         string   `json:"country"`
	AchievementType string   `json:"achievementType"`
	Tier            string   `json:"tier"`
	Score           float64  `json:"score"`
	CurrentRanking  int      `json:"currentRanking"`
	HighestRanking  int      `json:"highestRanking"`
	Medals          medalDTO `json:"medals"`
	Profile         string   `json:"profile"`
}

type medalDTO struct {
	Gold   int `json:"gold"`
	Silver int `json:"silver"`
	Bronze int `json:"bronze"`
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetLeaderboard")
	defer span.End()

	query := r.URL.Query()
	maxRows, provided, err := parseMaxRows(query.Get("max_rows"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	// Absent max_rows falls back to the configured page size; an explicit
	// max_rows=0 asks for the whole result.
	if !provided && h.maxPageSize > 0 {
		maxRows = h.maxPageSize
	}

	req := leaderboardQueryRequest{
		Country:         strings.TrimSpace(query.Get("country")),
		AchievementType: strings.TrimSpace(query.Get("achievement_type")),
		MaxRows:         maxRows,
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	entries, err := h.leaderboardService.Filter(ctx, leaderboard.Query{
		Country: req.Country,
		Type:    req.AchievementType,
		MaxRows: req.MaxRows,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "leaderboard query failed",
			"country", req.Country,
			"achievement_type", req.AchievementType,
			"error", err,
		)
		writeError(ctx, w, err)
		return
	}

	items := make([]leaderboardEntryDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryToDTO(e))
	}

	writeSuccess(ctx, w, http.StatusOK, items)
}

func (h *Handler) ListCountries(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListCountries")
	defer span.End()

	countries, err := h.leaderboardService.ListCountries(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "list countries failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, countries)
}

func (h *Handler) ListAchievementTypes(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListAchievementTypes")
	defer span.End()

	writeSuccess(ctx, w, http.StatusOK, h.leaderboardService.ListAchievementTypes(ctx))
}

func parseMaxRows(raw string) (int, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: max_rows must be a non-negative integer", usecase.ErrInvalidInput)
	}
	return n, true, nil
}

func entryToDTO(e leaderboard.Entry) leaderboardEntryDTO {
	return leaderboardEntryDTO{
		Rank:            e.Rank,
		UserName:        e.UserName,
		DisplayName:     e.DisplayName,
		Country:         e.Country,
		AchievementType: string(e.Type),
		Tier:            e.Tier.Name(),
		Score:           e.Score,
		CurrentRanking:  e.CurrentRanking,
		HighestRanking:  e.HighestRanking,
		Medals: medalDTO{
			Gold:   e.TotalGold,
			Silver: e.TotalSilver,
			Bronze: e.TotalBronze,
		},
		Profile: e.ProfileURL,
	}
}
