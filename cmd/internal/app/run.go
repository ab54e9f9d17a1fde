package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the composition root used by main: load config, build the app,
// and serve until SIGINT or SIGTERM.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	if err := ValidateSecurityConfig(); err != nil {
		log.Error("security.config.invalid", "err", err)
		return err
	}

	a, err := New(cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
