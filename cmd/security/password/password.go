package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	phcID      = "argon2id"
	phcVersion = argon2.Version
)

var b64 = base64.RawStdEncoding

// Hasher hashes and verifies passwords with Argon2id.
type Hasher struct {
	cfg Config
}

// NewHasher returns a Hasher bound to cfg.
func NewHasher(cfg Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// phcHash is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phcHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phcHash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcID, phcVersion,
		p.params.MemoryKiB, p.params.Iterations, p.params.Parallelism,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key),
	)
}

func parsePHC(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcID {
		return phcHash{}, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(phcVersion) {
		return phcHash{}, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return phcHash{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return phcHash{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}

	return phcHash{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: uint8(par),        // #nosec G115 -- bounded to 255 above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by the encoded length.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by the encoded length.
		},
		salt: salt,
		key:  key,
	}, nil
}

func derive(password string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// Hash returns the encoded Argon2id hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if err := h.cfg.CheckLength(password); err != nil {
		return "", err
	}

	salt := make([]byte, h.cfg.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	return phcHash{
		params: h.cfg.Params,
		salt:   salt,
		key:    derive(password, salt, h.cfg.Params),
	}.String(), nil
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (h *Hasher) Verify(encodedHash, password string) (bool, error) {
	ph, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	// Refuse parameters far above our own cost.
	if !withinReasonableBounds(ph.params, h.cfg.Params) {
		return false, ErrInvalidHash
	}

	got := derive(password, ph.salt, ph.params)
	return subtle.ConstantTimeCompare(got, ph.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with cost settings
// other than the current ones. Unparsable input also needs a rehash.
func (h *Hasher) NeedsRehash(encodedHash string) bool {
	ph, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	want := h.cfg.Params
	return ph.params.MemoryKiB != want.MemoryKiB ||
		ph.params.Iterations != want.Iterations ||
		ph.params.Parallelism != want.Parallelism ||
		ph.params.KeyLength != want.KeyLength ||
		ph.params.SaltLength != want.SaltLength
}

func withinReasonableBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2,
		got.Iterations > limits.Iterations*2,
		got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}
