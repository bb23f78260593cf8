// Package jwt mints and verifies the signed assertions services exchange for
// application-role sessions. Assertions are short-lived: exp is required and
// iat may not be older than the configured MaxAge.
package jwt
