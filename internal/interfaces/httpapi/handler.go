package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kaggleviz/country-leaderboard/internal/platform/logging"
	"github.com/kaggleviz/country-leaderboard/internal/usecase"
)

type Handler struct {
	leaderboardService *usecase.LeaderboardService
	pipelineService    *usecase.PipelineService
	maxPageSize        int
	logger             *logging.Logger
	validator          *validator.Validate
}

func NewHandler(
	leaderboardService *usecase.LeaderboardService,
	pipelineService *usecase.PipelineService,
	maxPageSize int,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}

	return &Handler{
		leaderboardService: leaderboardService,
		pipelineService:    pipelineService,
		maxPageSize:        maxPageSize,
		logger:             logger,
		validator:          validator.New(),
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.Healthz")
	defer span.End()

	status := map[string]string{"status": "ok"}
	if _, ok := h.pipelineService.Current(); !ok {
		status["snapshot"] = "absent"
	} else {
		status["snapshot"] = "installed"
	}

	writeSuccess(ctx, w, http.StatusOK, status)
}

func (h *Handler) validateRequest(ctx context.Context, payload any) error {
	ctx, span := startSpan(ctx, "httpapi.Handler.validateRequest")
	defer span.End()

	if err := h.validator.StructCtx(ctx, payload); err != nil {
		return fmt.Errorf("%w: validation failed: %v", usecase.ErrInvalidInput, err)
	}

	return nil
}
