// Package logging provides structured logging utilities for calagent.
//
// All components log through log/slog. This package keeps attribute names
// consistent across the dialogue controller, the calendar gateway and the
// hosts, and makes sure user identifiers never reach the logs in clear text.
//
// # Usage Patterns
//
// Build a logger for a turn:
//
//	logger := logging.WithSession(slog.Default(), sessionID)
//	logger.Info("turn handled",
//	    logging.Intent("CREATE_EVENT"),
//	    logging.Transition("create_checked"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("user logged in", logging.UserHash(email))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Session IDs are shortened before they are logged
//   - Tokens are never logged directly
package logging
