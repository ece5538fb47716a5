package ratelimit

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid limiter configuration.
var ErrConfig = errors.New("ratelimit: invalid config")

// Bucket is the budget of one class: Capacity tokens, refilled by
// RefillTokens at the end of every whole Interval.
type Bucket struct {
	Capacity     int
	RefillTokens int
	Interval     time.Duration
}

// Refill applies the whole intervals elapsed since last to tokens. Partial
// intervals earn nothing; the returned time advances by whole intervals only.
func (b Bucket) Refill(tokens int, last, now time.Time) (int, time.Time) {
	elapsed := now.Sub(last)
	if elapsed < b.Interval {
		return tokens, last
	}
	n := elapsed / b.Interval
	// Capped before multiplying so a long idle period cannot overflow.
	add := min(int64(n), int64(b.Capacity)) * int64(b.RefillTokens)
	return int(min(int64(b.Capacity), int64(tokens)+add)), last.Add(n * b.Interval)
}

// FullAfter is how long an empty bucket takes to fill up again.
func (b Bucket) FullAfter() time.Duration {
	intervals := (b.Capacity + b.RefillTokens - 1) / b.RefillTokens
	return time.Duration(intervals) * b.Interval
}

func (b Bucket) valid() bool {
	return b.Capacity > 0 && b.RefillTokens > 0 && b.Interval >= time.Millisecond
}

// Config holds the budgets for every class.
type Config struct {
	General Bucket
	Auth    Bucket
	Upload  Bucket

	UploadPrefixes []string
}

// DefaultConfig returns 100/min general, 10/min auth and 20/min upload.
func DefaultConfig() Config {
	return Config{
		General:        Bucket{Capacity: 100, RefillTokens: 100, Interval: time.Minute},
		Auth:           Bucket{Capacity: 10, RefillTokens: 10, Interval: time.Minute},
		Upload:         Bucket{Capacity: 20, RefillTokens: 20, Interval: time.Minute},
		UploadPrefixes: append([]string(nil), DefaultUploadPrefixes...),
	}
}

// For returns the bucket budget of class c. Unknown classes get General.
func (c Config) For(class Class) Bucket {
	switch class {
	case ClassAuth:
		return c.Auth
	case ClassUpload:
		return c.Upload
	default:
		return c.General
	}
}

// Validate checks that every class has a usable budget.
func (c Config) Validate() error {
	if !c.General.valid() || !c.Auth.valid() || !c.Upload.valid() {
		return ErrConfig
	}
	return nil
}

// LoadConfigFromEnv reads HEALPLUS_RATE_{GENERAL,AUTH,UPLOAD}_{CAPACITY,REFILL,INTERVAL}
// and HEALPLUS_RATE_UPLOAD_PREFIXES (comma separated) on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, item := range []struct {
		name string
		dst  *Bucket
	}{
		{"GENERAL", &cfg.General},
		{"AUTH", &cfg.Auth},
		{"UPLOAD", &cfg.Upload},
	} {
		if err := loadBucket("HEALPLUS_RATE_"+item.name, item.dst); err != nil {
			return Config{}, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("HEALPLUS_RATE_UPLOAD_PREFIXES")); v != "" {
		var prefixes []string
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if !strings.HasPrefix(p, "/") {
				return Config{}, ErrConfig
			}
			prefixes = append(prefixes, p)
		}
		cfg.UploadPrefixes = prefixes
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadBucket(prefix string, b *Bucket) error {
	if v := strings.TrimSpace(os.Getenv(prefix + "_CAPACITY")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return ErrConfig
		}
		b.Capacity = n
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "_REFILL")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return ErrConfig
		}
		b.RefillTokens = n
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return ErrConfig
		}
		b.Interval = d
	}
	return nil
}
