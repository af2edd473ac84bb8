package database

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store failures come in two kinds. Transient failures (timeouts, broken
// connections, server overload) are logged and skipped — the worker's
// next chunk or the aggregator's next tick is the retry. Fatal failures
// (schema mismatch, constraint violations) mean the offending record is
// dropped; the service stays up either way.
var (
	ErrTransient = errors.New("transient store error")
	ErrFatal     = errors.New("store error")
)

// IsTransient reports whether err should be treated as retryable-by-time.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classify wraps a pgx error with the matching kind sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 53 = insufficient resources,
		// 57 = operator intervention (shutdown), 40 = rollback/retry hints.
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57", "40":
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}

	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrFatal, err)
}
