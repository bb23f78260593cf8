package sqlstore

import (
	"context"

	"github.com/bluquist/bluquist"
	"github.com/jmoiron/sqlx"
)

type teamRow struct {
	ID   string `db:"id"`
	Name string `db:"name"`
}

type memberRow struct {
	TeamID string `db:"team_id"`
	bluquist.TeamMember
}

const memberColumns = `team_id, user_id, mail, first_name, last_name, role`

func (s *Store) CreateTeam(ctx context.Context, t *bluquist.Team) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, `INSERT INTO teams (id, name) VALUES (:id, :name)`,
		teamRow{ID: t.ID, Name: t.Name}); err != nil {
		return mapError(err)
	}
	for _, m := range t.Members {
		if err := insertMember(ctx, tx, t.ID, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMember(ctx context.Context, tx *sqlx.Tx, teamID string, m bluquist.TeamMember) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO team_members (`+memberColumns+`)
		VALUES (:team_id, :user_id, :mail, :first_name, :last_name, :role)`,
		memberRow{TeamID: teamID, TeamMember: m})
	return mapError(err)
}

func (s *Store) TeamByID(ctx context.Context, id string) (*bluquist.Team, error) {
	var row teamRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name FROM teams WHERE id = ?`), id); err != nil {
		return nil, mapError(err)
	}
	teams, err := s.withMembers(ctx, []teamRow{row})
	if err != nil {
		return nil, err
	}
	return &teams[0], nil
}

func (s *Store) TeamNameTaken(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM teams WHERE name = ?`), name); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) RenameTeam(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE teams SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM team_members WHERE team_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM teams WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) TeamsForUser(ctx context.Context, userID string) ([]bluquist.Team, error) {
	var rows []teamRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT t.id, t.name
		FROM teams t
		JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = ?
		ORDER BY t.name`), userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []bluquist.Team{}, nil
	}
	return s.withMembers(ctx, rows)
}

// withMembers loads the members of rows in one query and derives each
// team's admins from member roles.
func (s *Store) withMembers(ctx context.Context, rows []teamRow) ([]bluquist.Team, error) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	query, args, err := sqlx.In(`SELECT `+memberColumns+` FROM team_members WHERE team_id IN (?) ORDER BY user_id`, ids)
	if err != nil {
		return nil, err
	}
	var members []memberRow
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	byTeam := make(map[string][]bluquist.TeamMember, len(rows))
	for _, m := range members {
		byTeam[m.TeamID] = append(byTeam[m.TeamID], m.TeamMember)
	}

	teams := make([]bluquist.Team, len(rows))
	for i, r := range rows {
		t := bluquist.Team{ID: r.ID, Name: r.Name, Admins: []string{}, Members: byTeam[r.ID]}
		if t.Members == nil {
			t.Members = []bluquist.TeamMember{}
		}
		for _, m := range t.Members {
			if m.Role == bluquist.RoleAdmin {
				t.Admins = append(t.Admins, m.UserID)
			}
		}
		teams[i] = t
	}
	return teams, nil
}

func (s *Store) AddMember(ctx context.Context, teamID string, m bluquist.TeamMember) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM teams WHERE id = ?`), teamID); err != nil {
		return err
	}
	if n == 0 {
		return bluquist.ErrRecordNotFound
	}
	if err := insertMember(ctx, tx, teamID, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RemoveMember(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM team_members WHERE team_id = ? AND user_id = ?`), teamID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) UpdateMemberRole(ctx context.Context, teamID, userID, role string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE team_members SET role = ? WHERE team_id = ? AND user_id = ?`), role, teamID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
