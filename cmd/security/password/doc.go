// Package password is the password-hashing collaborator used by the auth API.
//
// Hashes use Argon2id in the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Stored hashes are treated as untrusted input during Verify; parameters far
// above the configured cost are refused.
package password
