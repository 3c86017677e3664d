package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/config"
	"onboarding-service/internal/service"
)

// ResumeHandler exposes the resume-by-email-code endpoints.
type ResumeHandler struct {
	resume       *service.ResumeService
	secureCookie bool
	logger       *zap.Logger
}

func NewResumeHandler(resume *service.ResumeService, cfg *config.Config, logger *zap.Logger) *ResumeHandler {
	return &ResumeHandler{
		resume:       resume,
		secureCookie: cfg.IsProduction(),
		logger:       logger,
	}
}

func (h *ResumeHandler) RegisterRoutes(router chi.Router) {
	router.Route("/resume", func(r chi.Router) {
		r.Post("/", h.Request)
		r.Post("/verify", h.Verify)
	})
}

type resumeRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

// Request sends a one-time code to the email on file.
func (h *ResumeHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithAppError(w, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.resume.Request(r.Context(), req.Identifier)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(result, "verification code sent"))
}

// Verify redeems the code and hands out a fresh session cookie.
func (h *ResumeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithAppError(w, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.resume.Verify(r.Context(), req.Identifier, req.Code)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	setSessionCookie(w, result.Session, h.secureCookie)
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"trackerId": result.Tracker.TrackerID,
		"status":    result.Tracker.Status,
	}, "application resumed"))

	h.logger.Info("Application resumed via HTTP",
		zap.String("tracker_id", result.Tracker.TrackerID))
}
