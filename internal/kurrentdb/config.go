package kurrentdb

import (
	"fmt"
	"net/url"

	"github.com/mj-trademark/portal/internal/shared/config"
)

// ConnectionString returns the esdb:// connection string for EventStore client.
func ConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password))
	}

	var tls string
	if cfg.Insecure {
		tls = "?tls=false"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, tls)
}
