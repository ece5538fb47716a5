// Package identity holds healplus user accounts: the principal behind every
// session. It stores the email, display name, role and password hash, and
// exposes lookups used by login and by refresh-token rotation.
//
// Password hashing itself is done by cmd/security/password; this package only
// persists the encoded hash.
package identity
