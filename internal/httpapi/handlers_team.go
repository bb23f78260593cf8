package httpapi

import (
	"net/http"

	"github.com/bluquist/bluquist"
	"github.com/bluquist/bluquist/internal/respond"
)

type teamListView struct {
	Teams []bluquist.Team `json:"teams"`
}

func (s *Server) registerTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRegisterRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	team, err := s.engine.RegisterTeam(r.Context(), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, team)
}

func (s *Server) renameTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRenameRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.RenameTeam(r.Context(), req.ID, req.Name); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) deleteTeam(w http.ResponseWriter, r *http.Request) {
	var req teamDeleteRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.DeleteTeam(r.Context(), req.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.engine.TeamsForCurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, teamListView{Teams: teams})
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req memberAddRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	member, err := s.engine.AddTeamMember(r.Context(), req.TeamID, req.Mail)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond.JSON(w, member)
}

func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	var req memberRemoveRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.RemoveTeamMember(r.Context(), req.TeamID, req.UserID); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}

func (s *Server) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req memberRoleRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if err := s.engine.UpdateTeamMemberRole(r.Context(), req.TeamID, req.UserID, req.Role); err != nil {
		s.fail(w, r, err)
		return
	}
	respond.Success(w)
}
