package bluquist

import (
	"context"
	"sync"

	"github.com/bluquist/bluquist/session"
)

type sessionContextKey struct{}
type clientIPContextKey struct{}

// sessionSlot carries the request's session from the gate through the
// handler to the persistence hook. The slot itself is request-scoped; the
// mutex only guards handlers that fan out goroutines.
type sessionSlot struct {
	mu   sync.Mutex
	sess *session.Session
}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &sessionSlot{sess: sess})
}

func slotFromContext(ctx context.Context) *sessionSlot {
	if ctx == nil {
		return nil
	}
	slot, _ := ctx.Value(sessionContextKey{}).(*sessionSlot)
	return slot
}

// SessionFromContext returns a copy of the session the gate attached to
// ctx. It reports false for public routes and after logout.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	slot := slotFromContext(ctx)
	if slot == nil {
		return nil, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sess == nil {
		return nil, false
	}
	return slot.sess.Clone(), true
}

// updateSession mutates the attached session in place so the persistence
// hook writes the change back.
func updateSession(ctx context.Context, fn func(*session.Session)) bool {
	slot := slotFromContext(ctx)
	if slot == nil {
		return false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sess == nil {
		return false
	}
	fn(slot.sess)
	return true
}

// detachSession empties the slot so nothing is written back.
func detachSession(ctx context.Context, token string) {
	slot := slotFromContext(ctx)
	if slot == nil {
		return
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.sess != nil && (token == "" || slot.sess.Token == token) {
		slot.sess = nil
	}
}

// WithClientIP attaches the caller's resolved IP address to ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the IP attached by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
