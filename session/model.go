package session

import (
	"encoding/json"
	"math"
	"time"
)

// Session binds a bearer token to a user, a role snapshot, the client origin
// observed at login and a sliding expiry.
//
// UserID, ClientIP and Token never change after creation. Role changes only
// through explicit privilege flows (team creation promotes to admin).
type Session struct {
	Token      string
	UserID     string
	Role       string
	ClientIP   string
	ExpireDate time.Time
}

// Expired reports whether the session is no longer valid at now. A session
// expiring exactly at now is expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpireDate.After(now)
}

// Renew slides the expiry to now+ttl. The expiry never moves backwards: when
// now+ttl is not later than the current expiry (clock skew between instances,
// or two renewals inside the same clock tick) it advances by one nanosecond.
func (s *Session) Renew(now time.Time, ttl time.Duration) {
	next := now.Add(ttl)
	if !next.After(s.ExpireDate) {
		next = s.ExpireDate.Add(time.Nanosecond)
	}
	s.ExpireDate = next
}

// Clone returns a copy safe to mutate independently.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

type sessionJSON struct {
	UserID       string  `json:"userID"`
	UserRole     string  `json:"userRole"`
	ClientIP     string  `json:"clientIP"`
	ExpireDate   float64 `json:"expireDate"`
	SessionToken string  `json:"sessionToken"`
}

// MarshalJSON renders the external record shape with expireDate as epoch
// seconds.
func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(sessionJSON{
		UserID:       s.UserID,
		UserRole:     s.Role,
		ClientIP:     s.ClientIP,
		ExpireDate:   float64(s.ExpireDate.Unix()) + float64(s.ExpireDate.Nanosecond())/float64(time.Second),
		SessionToken: s.Token,
	})
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	sec, frac := math.Modf(raw.ExpireDate)
	*s = Session{
		Token:      raw.SessionToken,
		UserID:     raw.UserID,
		Role:       raw.UserRole,
		ClientIP:   raw.ClientIP,
		ExpireDate: time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)),
	}
	return nil
}

// MarshalBinary encodes the record in the current storage format.
func (s Session) MarshalBinary() ([]byte, error) {
	return Encode(&s)
}

// UnmarshalBinary decodes any supported storage format.
func (s *Session) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
