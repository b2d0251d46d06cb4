package config

// Redis backs the access token revocation cache and distributed rate
// limiting. If the server cannot be reached at startup NewRedisClient returns
// nil and callers degrade gracefully: revocation checks go straight to MySQL
// and rate limiting is disabled.

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the Redis client.
type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	TLS         bool
	TLSInsecure bool   // skip certificate verification; self-signed test setups only
	Prefix      string // key prefix for revocation cache entries
}

// LoadRedisConfig reads REDIS_* variables. Supported variables are:
//
//	REDIS_ENABLED            – "false" disables Redis entirely
//	REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//	REDIS_ADDR               – host:port shorthand (host/port take precedence)
//	REDIS_PASSWORD           – optional password
//	REDIS_DB                 – database number (default 0)
//	REDIS_TLS                – enable TLS when "true" or "1"
//	REDIS_TLS_INSECURE       – skip certificate verification (default false)
//	REDIS_BLACKLIST_PREFIX   – key prefix for revoked tokens (default "bl")
func LoadRedisConfig() RedisConfig {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	addr := os.Getenv("REDIS_ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	dbNum := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			dbNum = n
		}
	}
	tlsEnv := os.Getenv("REDIS_TLS")
	return RedisConfig{
		Enabled:     envBool("REDIS_ENABLED", true),
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          dbNum,
		TLS:         strings.EqualFold(tlsEnv, "true") || tlsEnv == "1",
		TLSInsecure: envBool("REDIS_TLS_INSECURE", false),
		Prefix:      envStr("REDIS_BLACKLIST_PREFIX", "bl"),
	}
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout. The returned client is nil when Redis is disabled or unreachable.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.tlsConfig(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// tlsConfig is nil without TLS. Certificates are verified against the system
// roots unless TLSInsecure is set.
func (c RedisConfig) tlsConfig() *tls.Config {
	if !c.TLS {
		return nil
	}
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if host, _, err := net.SplitHostPort(c.Addr); err == nil {
		conf.ServerName = host
	}
	if c.TLSInsecure {
		conf.InsecureSkipVerify = true
	}
	return conf
}
