package config

import "time"

// CleanupConfig controls the background expiry sweeps. Each interval drives
// an independent ticker; MaxAttempts bounds the retries of a single run.
type CleanupConfig struct {
	Enabled             bool
	BlacklistInterval   time.Duration
	ResetTokenInterval  time.Duration
	VerifyTokenInterval time.Duration
	SessionInterval     time.Duration
	MaxAttempts         int
	RetryBackoff        time.Duration
	SweepTimeout        time.Duration
	RunOnStart          bool
}

func LoadCleanupConfig() CleanupConfig {
	c := CleanupConfig{
		Enabled:             envBool("CLEANUP_ENABLED", true),
		BlacklistInterval:   envDur("CLEANUP_BLACKLIST_INTERVAL", time.Hour),
		ResetTokenInterval:  envDur("CLEANUP_RESET_TOKEN_INTERVAL", time.Hour),
		VerifyTokenInterval: envDur("CLEANUP_VERIFY_TOKEN_INTERVAL", time.Hour),
		SessionInterval:     envDur("CLEANUP_SESSION_INTERVAL", 30*time.Minute),
		MaxAttempts:         envInt("CLEANUP_MAX_ATTEMPTS", 3),
		RetryBackoff:        envDur("CLEANUP_RETRY_BACKOFF", 2*time.Second),
		SweepTimeout:        envDur("CLEANUP_SWEEP_TIMEOUT", 30*time.Second),
		RunOnStart:          envBool("CLEANUP_RUN_ON_START", false),
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	return c
}
