package replica

import (
	"context"
	"net/http"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the participant endpoints plus the replica-local read
// API over HTTP.
type Server struct {
	mgr     *Manager
	httpSrv *http.Server
}

func NewServer(cfg *configs.Config, mgr *Manager) *Server {
	s := &Server{mgr: mgr}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.Routes(r)
	s.httpSrv = &http.Server{Addr: cfg.Address(), Handler: r}
	return s
}

// Routes mounts the replica endpoints on r. The coordinator process
// reuses this when its own address appears in the replicas list.
func (s *Server) Routes(r chi.Router) {
	r.Post("/can_page_commit", s.canPageCommit)
	r.Post("/can_user_commit", s.canUserCommit)
	r.Post("/do_commit", s.doCommit)

	r.Get("/page/{name}", s.getPage)
	r.Get("/pages", s.listPages)
	r.Get("/search", s.searchPages)
	r.Get("/user/{name}", s.getUser)
	r.Get("/users", s.listUsers)
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	configs.DPrintf("replica listening on %s", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) canPageCommit(w http.ResponseWriter, r *http.Request) {
	var msg network.PageCommit
	if !network.DecodeJSON(w, r, &msg) {
		return
	}
	reply := s.mgr.CanCommit(storage.LogEntry{
		TID:     msg.TransactionID,
		Kind:    configs.KindPage,
		Name:    msg.Page,
		Content: msg.Content,
	})
	network.WriteJSON(w, http.StatusOK, reply)
}

func (s *Server) canUserCommit(w http.ResponseWriter, r *http.Request) {
	var msg network.UserCommit
	if !network.DecodeJSON(w, r, &msg) {
		return
	}
	reply := s.mgr.CanCommit(storage.LogEntry{
		TID:   msg.TransactionID,
		Kind:  configs.KindUser,
		Name:  msg.Name,
		Admin: msg.Admin,
	})
	network.WriteJSON(w, http.StatusOK, reply)
}

func (s *Server) doCommit(w http.ResponseWriter, r *http.Request) {
	var msg network.DoCommit
	if !network.DecodeJSON(w, r, &msg) {
		return
	}
	ack, err := s.mgr.DoCommit(msg.TransactionID, msg.Commit)
	if err != nil {
		http.Error(w, "log write failed", http.StatusInternalServerError)
		return
	}
	network.WriteJSON(w, http.StatusOK, ack)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.mgr.Store().GetPage(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	network.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	network.WriteJSON(w, http.StatusOK, s.mgr.Store().ListPages())
}

func (s *Server) searchPages(w http.ResponseWriter, r *http.Request) {
	network.WriteJSON(w, http.StatusOK, s.mgr.Store().SearchPages(r.URL.Query().Get("q")))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.mgr.Store().GetUserByName(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	network.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	network.WriteJSON(w, http.StatusOK, s.mgr.Store().ListUsers())
}
