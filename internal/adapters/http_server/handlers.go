package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"handyhub/internal/app"
	"handyhub/internal/domain"
)

const maxBody = 64 << 10

type Handlers struct {
	Lifecycle *app.LifecycleService
	Messages  *app.MessageService
	Ratings   *app.RatingService
	Queries   *app.QueryService
	Auth      *Authenticator
	Log       zerolog.Logger

	// Heartbeat is the SSE keepalive interval; zero means 20s.
	Heartbeat time.Duration
}

func (s *Server) MountHandlers(h *Handlers, requestTimeout time.Duration) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(Timeout(requestTimeout))
			r.Get("/providers/{id}/rating", h.getRating)
			r.Get("/providers/{id}/reviews", h.listReviews)

			r.Group(func(r chi.Router) {
				r.Use(h.Auth.Require)
				r.Post("/engagements", h.createEngagement)
				r.Get("/engagements", h.listEngagements)
				r.Get("/engagements/{id}", h.getEngagement)
				r.Post("/engagements/{id}/respond", h.respond)
				r.Post("/engagements/{id}/complete", h.complete)
				r.Post("/engagements/{id}/cancel", h.cancel)
				r.Get("/engagements/{id}/messages", h.listMessages)
				r.Post("/engagements/{id}/messages", h.appendMessage)
				r.Post("/engagements/{id}/review", h.submitReview)
			})
		})
		r.With(h.Auth.Require).Get("/engagements/{id}/stream", h.stream)
	})
}

// decode reads a JSON body into dst. Malformed input is a validation error.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Invalid("request body is required")
		}
		return domain.Invalid("malformed request body: %v", err)
	}
	return nil
}

func queryLimit(r *http.Request, def, max int) (int, error) {
	ls := r.URL.Query().Get("limit")
	if ls == "" {
		return def, nil
	}
	l, err := strconv.Atoi(ls)
	if err != nil || l <= 0 || l > max {
		return 0, domain.Invalid("limit must be an integer between 1 and %d", max)
	}
	return l, nil
}

// ---- engagements ----

type createEngagementReq struct {
	ProviderID  string `json:"providerId"`
	DetailsText string `json:"detailsText"`
}

func (h *Handlers) createEngagement(w http.ResponseWriter, r *http.Request) {
	var req createEngagementReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	actor := IdentityFrom(r.Context()).SubjectID
	e, err := h.Lifecycle.CreateEngagementOnce(r.Context(), r.Header.Get("Idempotency-Key"), actor, req.ProviderID, req.DetailsText)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/engagements/"+e.ID)
	writeOK(w, http.StatusCreated, envelope{Message: "Request sent.", Engagement: &e})
}

func (h *Handlers) listEngagements(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50, 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Lifecycle.ListEngagements(r.Context(), IdentityFrom(r.Context()).SubjectID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []domain.Engagement{}
	}
	writeOK(w, http.StatusOK, envelope{Data: out})
}

func (h *Handlers) getEngagement(w http.ResponseWriter, r *http.Request) {
	e, err := h.Lifecycle.GetEngagement(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()).SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{Engagement: &e})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, do func(r *http.Request, id, actor string) (domain.Engagement, error), msg string) {
	e, err := do(r, chi.URLParam(r, "id"), IdentityFrom(r.Context()).SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{Message: msg, Engagement: &e})
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor string) (domain.Engagement, error) {
		return h.Lifecycle.RespondEngagement(r.Context(), id, actor)
	}, "Marked as responded.")
}

func (h *Handlers) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor string) (domain.Engagement, error) {
		return h.Lifecycle.CompleteEngagement(r.Context(), id, actor)
	}, "Job marked as completed.")
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor string) (domain.Engagement, error) {
		return h.Lifecycle.CancelEngagement(r.Context(), id, actor)
	}, "Request cancelled.")
}

// ---- messages ----

type appendMessageReq struct {
	Text string `json:"text"`
}

func (h *Handlers) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.Messages.AppendMessageOnce(r.Context(), r.Header.Get("Idempotency-Key"),
		chi.URLParam(r, "id"), IdentityFrom(r.Context()).SubjectID, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{Message: "Message sent.", Data: m})
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Messages.ListMessages(r.Context(), chi.URLParam(r, "id"), IdentityFrom(r.Context()).SubjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []domain.Message{}
	}
	writeOK(w, http.StatusOK, envelope{Data: ms})
}

// ---- reviews & ratings ----

type submitReviewReq struct {
	ProviderID string `json:"providerId"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

func (h *Handlers) submitReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Ratings.SubmitReview(r.Context(), chi.URLParam(r, "id"), req.ProviderID,
		IdentityFrom(r.Context()).SubjectID, req.Rating, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{Message: "Thanks for your review!", Data: res})
}

func (h *Handlers) getRating(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Queries.GetProviderRating(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, envelope{Data: sum})
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rs, err := h.Queries.ListReviews(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCacheable(w, r, envelope{Data: rs})
}
