package config

import "time"

// RateLimitConfig configures the token bucket guarding booking mutations.
// A caller starts with Capacity tokens and gets RefillTokens back every
// RefillInterval.  KeyStrategy picks what identifies a caller: any
// combination of ip, user and route joined by "_" (default all three).
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads the RATE_LIMIT_* variables.  Booking is a
// rare action, so the default allows a burst of 10 and one more every six
// seconds.  RATE_LIMIT_REFILL_EVERY is shorthand for one token per
// interval.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       max(1, envInt("RATE_LIMIT_CAPACITY", 10)),
		RefillTokens:   max(1, envInt("RATE_LIMIT_REFILL_TOKENS", 1)),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", 6*time.Second),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		cfg.RefillTokens, cfg.RefillInterval = 1, every
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	// An idle bucket must outlive a few refills or it resets to full.
	cfg.TTL = max(envDur("RATE_LIMIT_TTL", 10*time.Minute), 5*cfg.RefillInterval)
	return cfg
}
