package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookupEnv returns the parsed value of key. Unset, blank, unparsable or
// out-of-range values yield def.
func lookupEnv[T any](key string, def T, parse func(string) (T, error), accept func(T) bool) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil || (accept != nil && !accept(v)) {
		return def
	}
	return v
}

func EnvString(key, def string) string {
	return lookupEnv(key, def, func(s string) (string, error) { return s, nil }, nil)
}

func EnvBool(key string, def bool) bool {
	return lookupEnv(key, def, strconv.ParseBool, nil)
}

// EnvInt accepts positive values only.
func EnvInt(key string, def int) int {
	return lookupEnv(key, def, strconv.Atoi, func(n int) bool { return n > 0 })
}

// EnvInt32 accepts zero, so pool minimums can be disabled.
func EnvInt32(key string, def int32) int32 {
	parse := func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	}
	return lookupEnv(key, def, parse, func(n int32) bool { return n >= 0 })
}

// EnvDuration accepts positive Go durations ("250ms", "1m").
func EnvDuration(key string, def time.Duration) time.Duration {
	return lookupEnv(key, def, time.ParseDuration, func(d time.Duration) bool { return d > 0 })
}
