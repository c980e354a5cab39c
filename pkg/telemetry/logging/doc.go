// Package logging configures structured logging for the relay binaries.
//
// # Overview
//
// The package builds a log/slog logger with:
//   - JSON or text output
//   - Redaction of secrets (hop secrets, signatures, bearer tokens, API keys)
//   - Context fields (request_id, identity) added to every *Context call
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactSecrets: true,
//	})
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "3f1c...")
//	slog.InfoContext(ctx, "request admitted", "signature", sig) // signature is redacted
//
// Message content never reaches the log; callers log sizes and outcomes only.
package logging
