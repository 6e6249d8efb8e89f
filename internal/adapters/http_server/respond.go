package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"handyhub/internal/domain"
)

type apiError struct {
	Code    domain.Kind `json:"code"`
	Message string      `json:"message"`
}

// envelope is the body of every JSON response.
type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message,omitempty"`
	Engagement *domain.Engagement `json:"engagement,omitempty"`
	Data       any                `json:"data,omitempty"`
	Error      *apiError          `json:"error,omitempty"`
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindAuthenticationRequired:
		return http.StatusUnauthorized
	case domain.KindAuthorizationDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidState, domain.KindDuplicateReview:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func writeOK(w http.ResponseWriter, status int, env envelope) {
	env.Success = true
	writeJSON(w, status, env)
}

// writeError hides store internals from the caller; the log keeps them.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	msg := domain.MessageOf(err)
	if kind == domain.KindStore {
		log.Error().Err(err).Str("request_id", chimw.GetReqID(r.Context())).Msg("request failed")
		msg = "the service is temporarily unavailable, please retry"
	}
	writeJSON(w, statusFor(kind), envelope{Error: &apiError{Code: kind, Message: msg}})
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

// writeCacheable serves v with a weak ETag and honors If-None-Match.
func writeCacheable(w http.ResponseWriter, r *http.Request, v envelope) {
	v.Success = true
	etag, body := calcETagAndBody(v)
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Error().Err(err).Msg("write cacheable body failed")
	}
}
