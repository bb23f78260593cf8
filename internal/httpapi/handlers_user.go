package httpapi

import (
	"net/http"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/internal/respond"
)

type userView struct {
	ID        string `json:"id"`
	Mail      string `json:"mail"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role"`
}

type tokenView struct {
	Token string `json:"token"`
}

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	_, err := s.engine.RegisterUser(r.Context(), bluquist.Registration{
		Mail:      req.Mail,
		Password:  *req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.engine.Login(r.Context(), req.Mail, *req.Password, s.clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, tokenView{Token: token})
}

func (s *Server) loginService(w http.ResponseWriter, r *http.Request) {
	var req serviceLoginRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	token, err := s.engine.LoginService(r.Context(), req.Assertion, s.clientIP(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, tokenView{Token: token})
}

func (s *Server) logoutUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Logout(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, userView{
		ID:        u.ID,
		Mail:      u.Mail,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	err := s.engine.UpdateUser(r.Context(), bluquist.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := bluquist.SessionFromContext(r.Context())
	if !ok {
		s.fail(w, r, bluquist.ErrInvalidSession)
		return
	}
	respond.JSON(w, sess)
}
