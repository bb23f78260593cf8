package bluquist

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/bluquist/bluquist/session"
	"github.com/google/uuid"
)

// Registration is the input of RegisterUser. Role may be empty; any value
// other than RoleUser is refused.
type Registration struct {
	Mail      string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// UserUpdate carries the fields a user may change on their own account.
// Nil fields are left untouched.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Password  *string
	Role      *string
}

func (e *Engine) checkPassword(password string) error {
	if utf8.RuneCountInString(password) < e.config.Security.MinPasswordLength {
		return ErrInvalidPasswordFormat
	}
	return nil
}

// normalizeMail is the canonical form accounts are stored and looked up
// under. Stores compare mail exactly.
func normalizeMail(mail string) string {
	return strings.ToLower(strings.TrimSpace(mail))
}

// RegisterUser creates an account with role user. Password format is checked
// before mail availability, matching the order clients have always seen.
func (e *Engine) RegisterUser(ctx context.Context, in Registration) (*User, error) {
	if err := e.checkPassword(in.Password); err != nil {
		return nil, err
	}

	mail := normalizeMail(in.Mail)
	switch _, err := e.users.UserByMail(ctx, mail); {
	case err == nil:
		return nil, ErrMailTaken
	case !errors.Is(err, ErrRecordNotFound):
		return nil, err
	}

	if in.Role != "" && in.Role != RoleUser {
		return nil, ErrRoleRegistrationForbidden
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.NewString(),
		Mail:         mail,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         RoleUser,
		PasswordHash: hash,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return nil, ErrMailTaken
		}
		return nil, err
	}

	e.emitAudit(ctx, AuditUserRegistered, true, &session.Session{UserID: u.ID, Role: u.Role}, ClientIPFromContext(ctx), nil, nil)
	return u, nil
}

// CurrentUser loads the account behind the request's session.
func (e *Engine) CurrentUser(ctx context.Context) (*User, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	return e.userByID(ctx, sess.UserID)
}

func (e *Engine) userByID(ctx context.Context, id string) (*User, error) {
	u, err := e.users.UserByID(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return u, err
}

// UpdateUser applies in to the caller's own account. Role changes through
// this path are refused.
func (e *Engine) UpdateUser(ctx context.Context, in UserUpdate) error {
	sess, err := requireSession(ctx)
	if err != nil {
		return err
	}
	u, err := e.userByID(ctx, sess.UserID)
	if err != nil {
		return err
	}

	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	if in.Role != nil && *in.Role != RoleUser {
		return ErrRoleRegistrationForbidden
	}

	passwordChanged := false
	if in.Password != nil {
		if err := e.checkPassword(*in.Password); err != nil {
			return err
		}
		hash, err := e.hasher.Hash(*in.Password)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		passwordChanged = true
	}

	if err := e.users.UpdateUser(ctx, u); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if passwordChanged {
		e.emitAudit(ctx, AuditPasswordChanged, true, sess, ClientIPFromContext(ctx), nil, nil)
	}
	return nil
}
