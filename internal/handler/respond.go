package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"onboarding-service/internal/apperr"
	"onboarding-service/internal/model"
	"onboarding-service/internal/util"
)

// SessionCookieName is the only client-visible session artifact. The value is
// an opaque record ID; everything else stays server-side.
const SessionCookieName = "onboarding_session"

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

// respondWithAppError renders any domain error from its structured metadata:
// status, machine kind, retry hint and the cookie-clear instruction.
func respondWithAppError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)

	if appErr.Kind == apperr.KindInternal {
		util.Error("request failed", zap.Error(appErr))
	}

	if appErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}
	if appErr.ClearCookie {
		clearSessionCookie(w)
	}

	payload := Response{
		Success: false,
		Error:   string(appErr.Kind),
		Reason:  appErr.Reason,
		Message: appErr.Message,
	}
	if appErr.RetryAfterSeconds > 0 {
		payload.Data = map[string]int{"retryAfterSeconds": appErr.RetryAfterSeconds}
	}
	respondWithJSON(w, appErr.Status, payload)
}

// setSessionCookie installs or refreshes the session cookie. Max-Age tracks
// the session's own expiry so the browser and the record drift apart as
// little as possible.
func setSessionCookie(w http.ResponseWriter, session *model.Session, secure bool) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.SessionID,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionIDFromRequest extracts the session cookie value, empty when absent.
func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
