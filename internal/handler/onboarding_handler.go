package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/config"
	"onboarding-service/internal/service"
	"onboarding-service/internal/util"
)

// OnboardingHandler exposes the step-flow endpoints.
type OnboardingHandler struct {
	onboarding   *service.OnboardingService
	secureCookie bool
	logger       *zap.Logger
}

func NewOnboardingHandler(onboarding *service.OnboardingService, cfg *config.Config, logger *zap.Logger) *OnboardingHandler {
	return &OnboardingHandler{
		onboarding:   onboarding,
		secureCookie: cfg.IsProduction(),
		logger:       logger,
	}
}

func (h *OnboardingHandler) RegisterRoutes(router chi.Router) {
	router.Route("/onboarding", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Route("/{trackerID}", func(r chi.Router) {
			r.Delete("/", h.Withdraw)
			r.Get("/progress", h.Progress)
			r.Get("/steps/{step}", h.CheckStep)
			r.Post("/steps/{step}", h.SubmitStep)
			r.Post("/documents", h.UploadDocument)
			r.Get("/documents", h.DownloadDocument)
		})
	})
}

// Start opens an application from a pre-qualification submission and sets
// the initial session cookie.
func (h *OnboardingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithAppError(w, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.onboarding.Start(r.Context(), req)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	setSessionCookie(w, result.Session, h.secureCookie)
	respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"trackerId": result.Tracker.TrackerID,
		"status":    result.Tracker.Status,
	}, "application created"))

	h.logger.Info("Onboarding started via HTTP",
		util.String("tracker_id", result.Tracker.TrackerID),
		util.String("company_id", result.Tracker.CompanyID))
}

type submitStepRequest struct {
	Payload  string   `json:"payload"`
	BlobKeys []string `json:"blobKeys"`
}

// SubmitStep records a gated step submission.
func (h *OnboardingHandler) SubmitStep(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")
	step := chi.URLParam(r, "step")

	var req submitStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithAppError(w, apperr.Validation("invalid request body"))
		return
	}

	result, err := h.onboarding.SubmitStep(r.Context(), trackerID, step,
		sessionIDFromRequest(r), req.Payload, req.BlobKeys)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	setSessionCookie(w, result.Session, h.secureCookie)
	respondWithJSON(w, http.StatusOK, successResponse(result.Status, "step submitted"))
}

// Withdraw terminates the application at the driver's request and drops the
// session cookie.
func (h *OnboardingHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")

	if err := h.onboarding.Withdraw(r.Context(), trackerID, sessionIDFromRequest(r)); err != nil {
		respondWithAppError(w, err)
		return
	}

	clearSessionCookie(w)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "application withdrawn"))

	h.logger.Info("Application withdrawn via HTTP",
		util.String("tracker_id", trackerID))
}

// UploadDocument accepts one multipart file and returns the blob key to
// attach to a later step submission.
func (h *OnboardingHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithAppError(w, apperr.Validation("a file form field is required"))
		return
	}
	defer file.Close()

	key, err := h.onboarding.UploadDocument(r.Context(), trackerID,
		sessionIDFromRequest(r), header.Filename,
		header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"blobKey": key,
	}, "document uploaded"))
}

// DownloadDocument streams back an uploaded file by its blob key.
func (h *OnboardingHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")

	key := r.URL.Query().Get("key")
	if key == "" {
		respondWithAppError(w, apperr.Validation("key query parameter is required"))
		return
	}

	data, err := h.onboarding.DownloadDocument(r.Context(), trackerID,
		sessionIDFromRequest(r), key)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// CheckStep answers whether the driver may render a step page.
func (h *OnboardingHandler) CheckStep(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")
	step := chi.URLParam(r, "step")

	access, session, err := h.onboarding.CheckStepAccess(r.Context(), trackerID, step,
		sessionIDFromRequest(r))
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	setSessionCookie(w, session, h.secureCookie)
	respondWithJSON(w, http.StatusOK, successResponse(access, ""))
}

// Progress reports the tracker's current flow state.
func (h *OnboardingHandler) Progress(w http.ResponseWriter, r *http.Request) {
	trackerID := chi.URLParam(r, "trackerID")

	progress, session, err := h.onboarding.Progress(r.Context(), trackerID,
		sessionIDFromRequest(r))
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	setSessionCookie(w, session, h.secureCookie)
	respondWithJSON(w, http.StatusOK, successResponse(progress, ""))
}
