package coordinator

import (
	"context"
	"errors"
	"net/http"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/network/replica"
	"wikikv/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the write endpoints. When this node also appears in
// the replicas list, the replica's endpoints are mounted on the same
// listener.
type Server struct {
	mgr     *Manager
	httpSrv *http.Server
}

func NewServer(cfg *configs.Config, mgr *Manager, rep *replica.Server) *Server {
	s := &Server{mgr: mgr}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/request_page_commit", s.requestPageCommit)
	r.Post("/request_user_commit", s.requestUserCommit)
	if rep != nil {
		rep.Routes(r)
	}
	s.httpSrv = &http.Server{Addr: cfg.Address(), Handler: r}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	configs.DPrintf("coordinator listening on %s", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestPageCommit(w http.ResponseWriter, r *http.Request) {
	var msg network.RequestPageCommit
	if !network.DecodeJSON(w, r, &msg) {
		return
	}
	writeOutcome(w, s.mgr.RequestPageCommit(r.Context(), msg.Page, msg.Content))
}

func (s *Server) requestUserCommit(w http.ResponseWriter, r *http.Request) {
	var msg network.RequestUserCommit
	if !network.DecodeJSON(w, r, &msg) {
		return
	}
	writeOutcome(w, s.mgr.RequestUserCommit(r.Context(), msg.Name, msg.Admin))
}

// writeOutcome maps the driver result onto the wire contract:
// 200 committed, 409 rejected, 5xx durability failure.
func writeOutcome(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, storage.ErrConflict), errors.Is(err, ErrPrepareNack):
		w.WriteHeader(http.StatusConflict)
	default:
		http.Error(w, "commit failed", http.StatusInternalServerError)
	}
}
