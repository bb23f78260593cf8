// Package password hashes and verifies account passwords with argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// Minimum password length is an account policy and is enforced by the Engine,
// not here. This package never logs plaintext or hashes.
package password
