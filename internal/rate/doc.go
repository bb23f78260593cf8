// Package rate provides the Redis-backed failed-login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys live
// under the deployment namespace:
//   - <namespace>_rl_login_<mail>  failed logins per account
//   - <namespace>_rl_ip_<ip>       failed logins per client IP
//
// Redis failures are wrapped in kvstore.ErrUnavailable.
package rate
