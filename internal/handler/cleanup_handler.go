package handler

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/config"
	"onboarding-service/internal/service"
	"onboarding-service/internal/util"
)

// CleanupHandler exposes the internal cleanup trigger. The endpoint is meant
// for the scheduler, not for browsers: bearer or query secret, no cookies.
type CleanupHandler struct {
	cleanup *service.CleanupService
	secret  string
	logger  *zap.Logger
}

func NewCleanupHandler(cleanup *service.CleanupService, cfg *config.Config, logger *zap.Logger) *CleanupHandler {
	return &CleanupHandler{
		cleanup: cleanup,
		secret:  cfg.Cleanup.TriggerSecret,
		logger:  logger,
	}
}

func (h *CleanupHandler) RegisterRoutes(router chi.Router) {
	router.Post("/cleanup", h.Trigger)
}

func (h *CleanupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		respondWithAppError(w, apperr.Unauthorized("invalid cleanup secret"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithAppError(w, apperr.Validation("limit must be an integer"))
			return
		}
		limit = parsed
	}

	report, err := h.cleanup.Run(r.Context(), limit)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(report, "cleanup completed"))

	h.logger.Info("Cleanup triggered via HTTP",
		util.Time("ran_at", report.RanAt),
		util.Int("limit_applied", report.LimitApplied),
		util.Int("deleted_count", report.DeletedCount))
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}

	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if presented == "" || presented == r.Header.Get("Authorization") {
		presented = r.URL.Query().Get("secret")
	}

	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) == 1
}
