package database

import (
	"fmt"
	"net/url"

	"github.com/ktrn-dev/pipeline-client/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "pipeline-client"

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	// Passwords may contain URL delimiters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=%s",
		url.QueryEscape(cfg.User),
		escapedPassword,
		cfg.Host,
		port,
		cfg.Name,
		sslMode,
		ApplicationName,
	)
}
