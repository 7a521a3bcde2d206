package httpadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// Reloader rebuilds the analytics model from the configured credentials.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Purger removes expired messages ahead of the janitor schedule.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Server struct {
	rel Reloader
	pur Purger
}

func New(rel Reloader, pur Purger) *Server { return &Server{rel: rel, pur: pur} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/ai/reload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.rel == nil {
			http.Error(w, "ai analytics not configured", http.StatusServiceUnavailable)
			return
		}
		if err := s.rel.Reload(r.Context()); err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	})
	mux.HandleFunc("/admin/purge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.pur == nil {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		n, err := s.pur.PurgeExpired(r.Context())
		if err != nil {
			http.Error(w, "purge failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "true", "purged": strconv.FormatInt(n, 10)})
	})
}
