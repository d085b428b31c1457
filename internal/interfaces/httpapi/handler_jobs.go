package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

type refreshResultDTO struct {
	Generation string `json:"generation"`
	Rows       int    `json:"rows"`
	Recomputed bool   `json:"recomputed"`
	Shared     bool   `json:"shared"`
}

// RunRefreshJob rebuilds the leaderboard snapshot. The force query parameter
// bypasses the on-disk source cache and always redownloads.
func (h *Handler) RunRefreshJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunRefreshJob")
	defer span.End()

	mode := usecase.UseCache
	if force, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("force"))); force {
		mode = usecase.ForceRefresh
	}

	result, err := h.pipelineService.Refresh(ctx, mode)
	if err != nil {
		h.logger.ErrorContext(ctx, "refresh job failed", "mode", mode.String(), "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, refreshResultDTO{
		Generation: result.Generation,
		Rows:       result.Rows,
		Recomputed: result.Recomputed,
		Shared:     result.Shared,
	})
}
