package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

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

// LoadRateLimitConfig reads the global limiter (RATE_LIMIT_*).
func LoadRateLimitConfig() RateLimitConfig {
    return loadRateLimit("RATE_LIMIT", "rl", 100, "ip")
}

// LoadAuthRateLimitConfig reads the stricter login/register limiter (AUTH_RATE_LIMIT_*).
func LoadAuthRateLimitConfig() RateLimitConfig {
    return loadRateLimit("AUTH_RATE_LIMIT", "rl:auth", 5, "ip_route")
}

// LoadChatRateLimitConfig reads the chat limiter (CHAT_RATE_LIMIT_*).
func LoadChatRateLimitConfig() RateLimitConfig {
    return loadRateLimit("CHAT_RATE_LIMIT", "rl:chat", 20, "user")
}

func loadRateLimit(env, prefix string, capacity int, strategy string) RateLimitConfig {
    def := RateLimitConfig{
        Enabled:        envBool(env+"_ENABLED", true),
        Capacity:       envInt(env+"_CAPACITY", capacity),
        RefillTokens:   envInt(env+"_REFILL_TOKENS", 1),
        RefillInterval: envDur(env+"_REFILL_INTERVAL", time.Second),
        TTL:            envDur(env+"_TTL", 10*time.Minute),
        KeyStrategy:    envStr(env+"_KEY_STRATEGY", strategy),
        Prefix:         envStr(env+"_PREFIX", prefix),
        Debug:          envBool(env+"_DEBUG", false),
    }
    if b := envInt(env+"_BURST", -1); b > 0 { def.Capacity = b }
    if every := envDur(env+"_REFILL_EVERY", 0); every > 0 {
        def.RefillTokens = 1
        def.RefillInterval = every
    }
    if def.Capacity < 1 { def.Capacity = 1 }
    if def.RefillTokens < 1 { def.RefillTokens = 1 }
    if def.RefillInterval <= 0 { def.RefillInterval = time.Second }
    minTTL := 5 * def.RefillInterval
    if def.TTL < minTTL { def.TTL = minTTL }
    return def
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch strings.ToLower(v) {
    case "1", "true", "yes", "on": return true
    case "0", "false", "no", "off": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envFloat(k string, d float64) float64 {
    v := os.Getenv(k); if v == "" { return d }
    if f, err := strconv.ParseFloat(v, 64); err == nil { return f }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
