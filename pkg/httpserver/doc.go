// Package httpserver runs an http.Server bound to a context and provides
// liveness and readiness handlers.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// Run returns nil after a clean shutdown, ErrStart if the listener fails and
// ErrShutdown if in-flight requests do not drain within the shutdown timeout.
package httpserver
