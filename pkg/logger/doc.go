// Package logger is a small factory over log/slog: JSON or text handlers,
// level selection, static attributes and environment-driven configuration.
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//
//	log := logger.NewFromConfig(cfg,
//	    logger.WithAttr(slog.String("service", "relayqd")))
//	log.Info("starting")
package logger
