package bluquist

import (
	"context"
	"log/slog"

	"github.com/bluquist/bluquist/internal/audit"
	"github.com/bluquist/bluquist/session"
)

// AuditEvent is one security-relevant occurrence in the session lifecycle.
type AuditEvent = audit.Event

// AuditSink receives audit events off the request path.
type AuditSink = audit.Sink

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewSlogSink returns a sink that logs each event on logger.
func NewSlogSink(logger *slog.Logger) *audit.SlogSink {
	return audit.NewSlogSink(logger)
}

// Audit event types.
const (
	AuditLoginSuccess     = "login_success"
	AuditLoginFailure     = "login_failure"
	AuditServiceLogin     = "service_login"
	AuditLogout           = "logout"
	AuditSessionExpired   = "session_expired"
	AuditOriginViolation  = "origin_violation"
	AuditAccessDenied     = "access_denied"
	AuditSessionRevoked   = "session_revoked"
	AuditUserRegistered   = "user_registered"
	AuditPasswordChanged  = "password_changed"
	AuditRolePromoted     = "role_promoted"
	AuditTeamDeleted      = "team_deleted"
	AuditTeamMemberChange = "team_member_changed"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, sess *session.Session, ip string, err error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		EventType: eventType,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if sess != nil {
		event.UserID = sess.UserID
		event.Role = sess.Role
		event.SessionHint = audit.TokenHint(sess.Token)
		if event.IP == "" {
			event.IP = sess.ClientIP
		}
	}
	if err != nil {
		event.Error = err.Error()
	}
	if ctx != nil {
		ctx = context.WithoutCancel(ctx)
	}
	e.audit.Emit(ctx, event)
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}
