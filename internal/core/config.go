package core

import (
	"os"
	"strconv"
	"strings"
)

// Config controls the HTTP transport and CORS behavior. It is loaded
// from the environment with defaults; an unset or unparsable variable
// silently falls back to the default rather than failing startup.
type Config struct {
	Host        string
	Port        int
	DataDir     string
	MaxFileSize int64

	EnableCORS           bool
	CORSOrigins          []string
	CORSMethods          []string
	CORSHeaders          []string
	CORSAllowCredentials bool
}

// DefaultConfig mirrors the defaults of the original prototype's
// Settings::default(): loopback host, port 8000, ./data, a 100MiB cap,
// and a permissive development CORS policy.
func DefaultConfig() Config {
	return Config{
		Host:        "127.0.0.1",
		Port:        8000,
		DataDir:     "./data",
		MaxFileSize: 100 * 1024 * 1024,

		EnableCORS:           true,
		CORSOrigins:          []string{"http://localhost:3000", "http://127.0.0.1:3000", "*"},
		CORSMethods:          []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSHeaders:          []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		CORSAllowCredentials: false,
	}
}

// ConfigFromEnv loads Config from the SEVINO_* environment variables
// listed in the external interfaces, starting from DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("SEVINO_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("SEVINO_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("SEVINO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SEVINO_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxFileSize = n
		}
	}
	if v := os.Getenv("SEVINO_ENABLE_CORS"); v != "" {
		cfg.EnableCORS = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SEVINO_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("SEVINO_CORS_METHODS"); v != "" {
		cfg.CORSMethods = splitCSV(v)
	}
	if v := os.Getenv("SEVINO_CORS_HEADERS"); v != "" {
		cfg.CORSHeaders = splitCSV(v)
	}
	if v := os.Getenv("SEVINO_CORS_ALLOW_CREDENTIALS"); v != "" {
		cfg.CORSAllowCredentials = strings.EqualFold(v, "true")
	}

	return cfg
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
