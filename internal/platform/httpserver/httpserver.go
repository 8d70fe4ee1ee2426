package httpserver

import (
	"net/http"
	"time"

	"fecsync/internal/platform/config"
)

const defaultWriteTimeout = 5 * time.Minute

// New builds the API server. A sync request holds its connection for every
// import pass it runs, so cfg.WriteTimeout must cover the slowest one.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := cfg.WriteTimeout
	if write <= 0 {
		write = defaultWriteTimeout
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       2 * time.Minute,
	}
}
