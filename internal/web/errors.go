package web

// errors.go turns job and request errors into client responses.
//
// Every error is logged with its technical detail and request ID, then
// mapped to a UserMessage. API routes get JSON, everything else a small
// HTML page. Job errors carry their own code (CFG/IO/JOB); anything else is
// matched against a short list of known patterns and falls back to ERR000.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/dedupe/internal/dedupe"
	"github.com/JonMunkholm/dedupe/internal/logging"
	"github.com/JonMunkholm/dedupe/internal/storage"
	"github.com/JonMunkholm/dedupe/internal/web/templates"
)

// UserMessage is the client-facing view of an error.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var kindActions = map[dedupe.Kind]string{
	dedupe.KindConfiguration: "Check the request parameters and the file header",
	dedupe.KindIO:            "Please try again or contact support",
	dedupe.KindCancelled:     "Submit the file again when ready",
	dedupe.KindBusy:          "Please wait a moment and try again",
	dedupe.KindNotFound:      "Results are kept for a limited time. Submit the file again",
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "REQ002"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"request body too large", UserMessage{"File too large", "Split the file into smaller chunks", "IO004"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err to a user-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var jerr *dedupe.Error
	if errors.As(err, &jerr) {
		msg := jerr.Message
		if jerr.Detail != "" {
			msg += ". " + jerr.Detail
		}
		return UserMessage{Message: msg, Action: kindActions[jerr.Kind], Code: jerr.Code}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case dedupe.CodeOf(err) == dedupe.CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch dedupe.KindOf(err) {
	case dedupe.KindConfiguration:
		return http.StatusBadRequest
	case dedupe.KindBusy:
		return http.StatusServiceUnavailable
	case dedupe.KindNotFound:
		return http.StatusNotFound
	case dedupe.KindCancelled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := MapError(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	if wantsJSON(r) {
		respondErrorJSON(w, userMsg, status)
		return
	}
	respondErrorHTML(w, r, userMsg, status)
}

func respondErrorJSON(w http.ResponseWriter, msg UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func respondErrorHTML(w http.ResponseWriter, r *http.Request, msg UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorPage(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", err)
	}
}

// wantsJSON reports whether the client should get a JSON error body.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
