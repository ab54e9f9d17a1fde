package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior.
type Config struct {
	// MaxBodyBytes caps request bodies on the JSON endpoints.
	MaxBodyBytes int64

	// CookieName is the session cookie set on login and read by the web
	// middleware as a token fallback.
	CookieName string

	// CookieSecure marks the session cookie Secure; enable behind TLS.
	CookieSecure bool

	// LoginPath is where the web middleware redirects rejected requests.
	LoginPath string
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxBodyBytes: envInt64("PARLEY_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CookieName:   envString("PARLEY_AUTH_COOKIE_NAME", "authToken"),
		CookieSecure: envBool("PARLEY_AUTH_COOKIE_SECURE", false),
		LoginPath:    envString("PARLEY_AUTH_LOGIN_PATH", "/login"),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if !strings.HasPrefix(cfg.LoginPath, "/") {
		cfg.LoginPath = "/login"
	}
	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
