package httpapi

import (
	"net/http"
	"time"

	"github.com/bluquist/bluquist/internal/respond"
)

type infoView struct {
	APIVersion  string  `json:"apiVersion"`
	Environment string  `json:"environment"`
	ServerTime  float64 `json:"serverTime"`
}

func (s *Server) staticInfo(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	respond.JSON(w, infoView{
		APIVersion:  s.version,
		Environment: s.engine.Config().Environment,
		ServerTime:  float64(now.UnixNano()) / float64(time.Second),
	})
}

// ping answers 204 once the session store responds.
func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Ping(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Empty(w)
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.RevokeSession(r.Context(), req.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}
