// Package logger builds context-aware slog loggers and provides attribute
// helpers that keep key names consistent across the billing components.
//
//	log := logger.New(
//	    logger.WithConfig(cfg),
//	    logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	log.InfoContext(ctx, "Subscription created",
//	    logger.Component("reconciler"),
//	    logger.CustomerID(customer.ID),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed without a nil check.
package logger
