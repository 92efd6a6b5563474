package config

import "time"

// CacheConfig defines settings for the seat inventory cache.  When Enabled
// is false or no Redis client is configured, every read goes to MySQL.
// TTL bounds how stale a trip-day's reservation list may be when an
// invalidation is lost; layouts change rarely and keep LayoutTTL.
type CacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	LayoutTTL time.Duration
	Prefix    string
}

// LoadCacheConfig reads CACHE_ENABLED, CACHE_TTL, CACHE_LAYOUT_TTL and
// CACHE_PREFIX.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:   envBool("CACHE_ENABLED", true),
		TTL:       envDur("CACHE_TTL", 30*time.Second),
		LayoutTTL: envDur("CACHE_LAYOUT_TTL", 10*time.Minute),
		Prefix:    envStr("CACHE_PREFIX", "inv"),
	}
}
