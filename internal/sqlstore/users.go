package sqlstore

import (
	"context"

	"github.com/bluquist/bluquist"
)

const userColumns = `id, mail, first_name, last_name, role, password_hash, created_at`

func (s *Store) CreateUser(ctx context.Context, u *bluquist.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :mail, :first_name, :last_name, :role, :password_hash, :created_at)`, u)
	return mapError(err)
}

func (s *Store) UserByID(ctx context.Context, id string) (*bluquist.User, error) {
	var u bluquist.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) UserByMail(ctx context.Context, mail string) (*bluquist.User, error) {
	var u bluquist.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE mail = ?`), mail)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// UpdateUser writes the profile, role and password hash. Team member
// snapshots carry the new names and mail too.
func (s *Store) UpdateUser(ctx context.Context, u *bluquist.User) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE users
		SET mail = :mail, first_name = :first_name, last_name = :last_name,
		    role = :role, password_hash = :password_hash
		WHERE id = :id`, u)
	if err != nil {
		return mapError(err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE team_members
		SET mail = :mail, first_name = :first_name, last_name = :last_name
		WHERE user_id = :id`, u)
	if err != nil {
		return mapError(err)
	}

	return tx.Commit()
}
