// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler answers /healthz unconditionally and /readyz once the database answers a ping.
type Handler struct {
	db Pinger
}

// NewHandler returns a probe handler. A nil db makes readiness follow liveness.
func NewHandler(db Pinger) *Handler {
	return &Handler{db: db}
}

// Register adds GET /healthz and GET /readyz to router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.Live).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.Ready).Methods(http.MethodGet)
}

// Live reports that the process is serving.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "ok")
}

// Ready reports whether the database is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
