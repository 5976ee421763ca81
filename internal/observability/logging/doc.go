// Package logging provides structured logging utilities with context propagation.
//
// Loggers are plain *slog.Logger values. The worker builds one with NewLogger,
// and each recompute epoch derives a child with WithEpoch so every line of
// that epoch carries the same epoch number and run ID:
//
//	logger := logging.WithEpoch(logging.NewLogger(), 42, logging.NewRunID())
//	ctx = logging.WithLogger(ctx, logger)
//	logging.FromContext(ctx).Info("ranking converged", slog.Int("iterations", 17))
package logging
