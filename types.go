package bluquist

import (
	"context"
	"slices"
	"time"
)

// Account roles. RoleApp is the synthetic role of service sessions.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
	RoleApp   = "app"
)

// User is a registered account.
type User struct {
	ID           string    `db:"id"`
	Mail         string    `db:"mail"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Role         string    `db:"role"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Team groups members under one or more team administrators.
type Team struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Admins  []string     `json:"admin"`
	Members []TeamMember `json:"members"`
}

// IsAdmin reports whether userID administers the team.
func (t *Team) IsAdmin(userID string) bool {
	return slices.Contains(t.Admins, userID)
}

// Member returns the membership record for userID.
func (t *Team) Member(userID string) (TeamMember, bool) {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return TeamMember{}, false
}

// TeamMember is a denormalized snapshot of a member's profile.
type TeamMember struct {
	UserID    string `json:"user_id" db:"user_id"`
	Mail      string `json:"mail" db:"mail"`
	FirstName string `json:"first_name,omitempty" db:"first_name"`
	LastName  string `json:"last_name,omitempty" db:"last_name"`
	Role      string `json:"role" db:"role"`
}

// UserStore persists accounts. Lookups of unknown records return
// ErrRecordNotFound; unique violations return ErrDuplicateRecord.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByMail(ctx context.Context, mail string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
}

// TeamStore persists teams with the same error contract as UserStore.
// A team's Admins are exactly the members whose role is RoleAdmin;
// implementations keep the two in step.
type TeamStore interface {
	CreateTeam(ctx context.Context, t *Team) error
	TeamByID(ctx context.Context, id string) (*Team, error)
	TeamNameTaken(ctx context.Context, name string) (bool, error)
	RenameTeam(ctx context.Context, id, name string) error
	DeleteTeam(ctx context.Context, id string) error
	TeamsForUser(ctx context.Context, userID string) ([]Team, error)
	AddMember(ctx context.Context, teamID string, m TeamMember) error
	RemoveMember(ctx context.Context, teamID, userID string) error
	UpdateMemberRole(ctx context.Context, teamID, userID, role string) error
}

// PasswordHasher hashes and verifies account passwords.
// *password.Argon2 satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// RouteOptions declare how the gate treats one route. They are fixed when
// the route is registered and never mutated afterwards.
type RouteOptions struct {
	// Public routes bypass authentication entirely.
	Public bool
	// Roles restricts access to sessions holding one of these roles. Empty
	// accepts any authenticated role.
	Roles []string
}

// Allows reports whether role passes the route's role restriction.
func (o RouteOptions) Allows(role string) bool {
	return len(o.Roles) == 0 || slices.Contains(o.Roles, role)
}

// Restrict returns route options limited to roles.
func Restrict(roles ...string) RouteOptions {
	return RouteOptions{Roles: slices.Clone(roles)}
}

// PublicRoute returns route options that bypass authentication.
func PublicRoute() RouteOptions {
	return RouteOptions{Public: true}
}
