package password

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config carries hashing cost and the accepted password length range.
type Config struct {
	Params    Argon2idParams
	MinLength int
	MaxLength int
}

// DefaultConfig returns interactive-login cost settings.
func DefaultConfig() Config {
	// At most 4 lanes so a busy container is not starved by logins.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 8,
		MaxLength: 128,
	}
}

// costVar binds one cost env var to its accepted range.
type costVar struct {
	key    string
	lo, hi uint32
	apply  func(*Argon2idParams, uint32)
}

var costVars = []costVar{
	{"HEALPLUS_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(p *Argon2idParams, v uint32) { p.MemoryKiB = v }},
	{"HEALPLUS_ARGON2_ITERATIONS", 1, 20, func(p *Argon2idParams, v uint32) { p.Iterations = v }},
	{"HEALPLUS_ARGON2_PARALLELISM", 1, math.MaxUint8, func(p *Argon2idParams, v uint32) {
		p.Parallelism = uint8(v) // #nosec G115 -- range-checked against MaxUint8.
	}},
}

// FromEnv overlays the HEALPLUS_ARGON2_* cost variables on DefaultConfig.
// A variable that is set but blank or out of range is an error.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, cv := range costVars {
		raw, ok := os.LookupEnv(cv.key)
		if !ok {
			continue
		}
		v, err := atou32(raw, cv.lo, cv.hi)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", cv.key, err)
		}
		cv.apply(&cfg.Params, v)
	}
	return cfg, nil
}

// CheckLength enforces the accepted length range, counted in runes.
func (c Config) CheckLength(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}

func atou32(s string, lo, hi uint32) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	switch {
	case err != nil:
		return 0, errors.New("not an unsigned integer")
	case uint32(n) < lo || uint32(n) > hi:
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return uint32(n), nil
}
