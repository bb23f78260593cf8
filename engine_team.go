package bluquist

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bluquist/bluquist/session"
	"github.com/google/uuid"
)

const minTeamNameLength = 5

func (e *Engine) teamNameAvailable(ctx context.Context, name string) error {
	if utf8.RuneCountInString(name) < minTeamNameLength {
		return ErrTeamNameInvalid
	}
	taken, err := e.teams.TeamNameTaken(ctx, name)
	if err != nil {
		return err
	}
	if taken {
		return ErrTeamNameInvalid
	}
	return nil
}

func (e *Engine) teamByID(ctx context.Context, id string) (*Team, error) {
	if strings.TrimSpace(id) == "" {
		return nil, BadParameter("team id must not be empty")
	}
	t, err := e.teams.TeamByID(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// adminTeam loads a team the caller administers. Global admins may pass
// when allowGlobal is set.
func (e *Engine) adminTeam(ctx context.Context, teamID string, allowGlobal bool) (*Team, *session.Session, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	t, err := e.teamByID(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if t.IsAdmin(sess.UserID) || (allowGlobal && sess.Role == RoleAdmin) {
		return t, sess, nil
	}
	return nil, nil, ErrNotTeamAdmin
}

// RegisterTeam creates a team administered by the caller. The caller is
// promoted to the global admin role; the in-request session carries the new
// role so the persistence hook writes it back.
func (e *Engine) RegisterTeam(ctx context.Context, name string) (*Team, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.teamNameAvailable(ctx, name); err != nil {
		return nil, err
	}

	u, err := e.userByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	promoted := u.Role != RoleAdmin
	if promoted {
		u.Role = RoleAdmin
		if err := e.users.UpdateUser(ctx, u); err != nil {
			return nil, err
		}
	}

	t := &Team{
		ID:     uuid.NewString(),
		Name:   name,
		Admins: []string{u.ID},
		Members: []TeamMember{{
			UserID:    u.ID,
			Mail:      u.Mail,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      RoleAdmin,
		}},
	}
	if err := e.teams.CreateTeam(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, ErrTeamNameInvalid
		}
		return nil, err
	}

	updateSession(ctx, func(s *session.Session) { s.Role = RoleAdmin })
	if promoted {
		e.emitAudit(ctx, AuditRolePromoted, true, sess, ClientIPFromContext(ctx), nil, map[string]string{"team_id": t.ID})
	}
	return t, nil
}

// RenameTeam renames a team the caller administers. The new name must be
// available under the same rules as registration.
func (e *Engine) RenameTeam(ctx context.Context, teamID, name string) error {
	t, _, err := e.adminTeam(ctx, teamID, false)
	if err != nil {
		return err
	}
	if err := e.teamNameAvailable(ctx, name); err != nil {
		return err
	}

	err = e.teams.RenameTeam(ctx, t.ID, name)
	switch {
	case errors.Is(err, ErrDuplicateRecord):
		return ErrTeamNameInvalid
	case errors.Is(err, ErrRecordNotFound):
		return ErrNotFound
	}
	return err
}

// DeleteTeam removes a team. Team admins and global admins may delete.
func (e *Engine) DeleteTeam(ctx context.Context, teamID string) error {
	t, sess, err := e.adminTeam(ctx, teamID, true)
	if err != nil {
		return err
	}
	if err := e.teams.DeleteTeam(ctx, t.ID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	e.emitAudit(ctx, AuditTeamDeleted, true, sess, ClientIPFromContext(ctx), nil, map[string]string{"team_id": t.ID})
	return nil
}

// TeamsForCurrentUser lists the teams the caller is a member of.
func (e *Engine) TeamsForCurrentUser(ctx context.Context) ([]Team, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	teams, err := e.teams.TeamsForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if teams == nil {
		teams = []Team{}
	}
	return teams, nil
}

// AddTeamMember adds the account registered under mail to a team the caller
// administers, with the member role user.
func (e *Engine) AddTeamMember(ctx context.Context, teamID, mail string) (*TeamMember, error) {
	t, sess, err := e.adminTeam(ctx, teamID, false)
	if err != nil {
		return nil, err
	}

	u, err := e.users.UserByMail(ctx, normalizeMail(mail))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if _, ok := t.Member(u.ID); ok {
		return nil, BadParameter("user is already a member of the team")
	}

	m := TeamMember{
		UserID:    u.ID,
		Mail:      u.Mail,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      RoleUser,
	}
	if err := e.teams.AddMember(ctx, t.ID, m); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, BadParameter("user is already a member of the team")
		}
		return nil, err
	}

	e.emitAudit(ctx, AuditTeamMemberChange, true, sess, ClientIPFromContext(ctx), nil, map[string]string{
		"team_id": t.ID, "member_id": u.ID, "change": "added",
	})
	return &m, nil
}

// RemoveTeamMember removes userID from a team. Team admins may remove anyone;
// members may remove themselves. The last administrator cannot leave.
func (e *Engine) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	sess, err := requireSession(ctx)
	if err != nil {
		return err
	}
	t, err := e.teamByID(ctx, teamID)
	if err != nil {
		return err
	}
	if userID != sess.UserID && !t.IsAdmin(sess.UserID) {
		return ErrNotTeamAdmin
	}

	m, ok := t.Member(userID)
	if !ok {
		return ErrNotTeamMember
	}
	if m.Role == RoleAdmin && len(t.Admins) <= 1 {
		return BadParameter("a team must keep at least one administrator")
	}

	if err := e.teams.RemoveMember(ctx, t.ID, userID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNotTeamMember
		}
		return err
	}

	e.emitAudit(ctx, AuditTeamMemberChange, true, sess, ClientIPFromContext(ctx), nil, map[string]string{
		"team_id": t.ID, "member_id": userID, "change": "removed",
	})
	return nil
}

// UpdateTeamMemberRole sets a member's role within a team the caller
// administers. Members with role admin administer the team.
func (e *Engine) UpdateTeamMemberRole(ctx context.Context, teamID, userID, role string) error {
	if role != RoleUser && role != RoleAdmin {
		return BadParameter("role must be one of user, admin")
	}

	t, sess, err := e.adminTeam(ctx, teamID, false)
	if err != nil {
		return err
	}
	m, ok := t.Member(userID)
	if !ok {
		return ErrNotTeamMember
	}
	if m.Role == RoleAdmin && role != RoleAdmin && len(t.Admins) <= 1 {
		return BadParameter("a team must keep at least one administrator")
	}

	if err := e.teams.UpdateMemberRole(ctx, t.ID, userID, role); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNotTeamMember
		}
		return err
	}

	e.emitAudit(ctx, AuditTeamMemberChange, true, sess, ClientIPFromContext(ctx), nil, map[string]string{
		"team_id": t.ID, "member_id": userID, "change": "role:" + role,
	})
	return nil
}
