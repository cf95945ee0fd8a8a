// Package log provides structured security event logging.
//
// This package defines the Logger interface and Event type used by the
// envelope, token and joiner admission packages to report what they did.
// It is separate from operational logging: events form a machine-readable
// trace of signing, validation and admission decisions.
//
// # Basic Usage
//
// Components accept a Logger through their options:
//
//	// For development: log to console via slog
//	msg := cose.NewSign1Message(cose.WithLogger(log.NewSlogAdapter(slog.Default())))
//
//	// For JSON pipelines: log through zap
//	policy := joiner.NewPolicy(joiner.WithPolicyLogger(log.NewZapAdapter(zapLogger)))
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), log.NewZapAdapter(zapLogger))
//
// # What Is Logged
//
// Events carry the operation, its outcome and the coarse error code. They
// never carry private key material, payload bytes or external data. A key
// identifier or joiner ID may be attached to correlate events.
package log
