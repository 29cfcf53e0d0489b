// Package handler serves the collector's HTTP API: credential issuance on GET /token
// and feedback intake on POST /feedback.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nordeck/feedback-application/internal/collector/auth"
	"github.com/nordeck/feedback-application/internal/collector/domain"
	"github.com/nordeck/feedback-application/internal/collector/repository"
	"github.com/nordeck/feedback-application/internal/telemetry"
	teldomain "github.com/nordeck/feedback-application/internal/telemetry/domain"
)

const (
	maxBodyBytes  = 1 << 20
	eventSource   = "collector"
	allowMethods  = "GET,HEAD,PUT,PATCH,POST,DELETE"
	operationName = "feedback-collector"
)

// Handler wires credential issuance and feedback storage to HTTP.
type Handler struct {
	validator auth.UserValidator
	issuer    *auth.TokenIssuer
	repo      repository.Repository
	emitter   telemetry.EventEmitter
	logger    *slog.Logger
}

// New returns a Handler. emitter may be nil to disable telemetry events; a nil logger uses slog.Default().
func New(validator auth.UserValidator, issuer *auth.TokenIssuer, repo repository.Repository, emitter telemetry.EventEmitter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{validator: validator, issuer: issuer, repo: repo, emitter: emitter, logger: logger}
}

const (
	TokenPath    = "/token"
	FeedbackPath = "/feedback"
)

// NewRouter returns the router the collector mounts its routes on.
func NewRouter() *mux.Router {
	return mux.NewRouter().StrictSlash(true)
}

// Register adds the collector routes to router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc(TokenPath, h.Token).Methods(http.MethodGet)
	router.HandleFunc(TokenPath, preflight).Methods(http.MethodOptions)
	router.HandleFunc(FeedbackPath, h.Feedback).Methods(http.MethodPost)
	router.HandleFunc(FeedbackPath, preflight).Methods(http.MethodOptions)
}

// Wrap adds CORS headers to every response and traces each request.
func Wrap(next http.Handler) http.Handler {
	return otelhttp.NewHandler(cors(next), operationName)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", allowMethods)
	w.WriteHeader(http.StatusNoContent)
}

// Token validates the Matrix OpenID token in the bearer header and answers with a
// feedback credential as plain text.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	openIDToken, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if openIDToken == "" {
		http.Error(w, auth.ErrInvalidUser.Error(), http.StatusBadRequest)
		return
	}

	userID, err := h.validator.Validate(ctx, openIDToken)
	switch {
	case errors.Is(err, auth.ErrInvalidUser):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "collector: user verification failed", "error", err)
		http.Error(w, "user verification unavailable", http.StatusBadGateway)
		return
	}

	token, expiresAt, err := h.issuer.Issue(userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "collector: sign credential", "error", err)
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}

	event := teldomain.NewEvent(teldomain.EventTokenIssued, eventSource)
	event.UserID = userID
	if !expiresAt.IsZero() {
		event.WithMetadata(map[string]string{"expires_at": expiresAt.Format(time.RFC3339)})
	}
	telemetry.EmitAsync(ctx, h.emitter, event)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(token))
}

// feedbackRequest is the POST /feedback body.
type feedbackRequest struct {
	Rating        int             `json:"rating"`
	RatingComment string          `json:"rating_comment"`
	Metadata      json.RawMessage `json:"metadata"`
}

// feedbackResponse acknowledges a stored submission.
type feedbackResponse struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// Feedback stores the submission under the caller's credential, replacing an earlier
// submission made with the same credential.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	credential, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	claims, err := h.issuer.Validate(credential)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	metadata, err := normalizeMetadata(req.Metadata)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := &domain.Feedback{
		Rating:        req.Rating,
		RatingComment: req.RatingComment,
		Metadata:      metadata,
		JWT:           credential,
		UserID:        claims.UserID,
	}
	created, err := h.repo.Save(ctx, f)
	if err != nil {
		h.logger.ErrorContext(ctx, "collector: store feedback", "error", err)
		http.Error(w, "storing feedback failed", http.StatusInternalServerError)
		return
	}

	event := teldomain.NewEvent(teldomain.EventFeedbackSubmitted, eventSource)
	event.UserID = claims.UserID
	event.WithMetadata(map[string]any{"feedback_id": f.ID, "rating": f.Rating, "created": created})
	telemetry.EmitAsync(ctx, h.emitter, event)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(feedbackResponse{ID: f.ID, Created: created})
}

var errMetadataNotObject = errors.New("metadata must be a JSON object")

// normalizeMetadata accepts an absent or null metadata field as nil and otherwise requires an object.
func normalizeMetadata(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, errMetadataNotObject
	}
	return json.RawMessage(trimmed), nil
}
