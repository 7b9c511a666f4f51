// Package database holds helpers shared by the Postgres-backed repositories.
package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"

	"worknode/internal/failure"
)

const Component = "postgres"

// Classify converts connection-level failures into the unavailable signal and
// returns every other error unchanged. Query errors (constraint violations,
// missing rows) stay ordinary errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return failure.Unavailable(Component, err)
	}
	return err
}

// IsConnectionError reports whether err means the database cannot be reached.
func IsConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P01..03: admin shutdown / cannot connect now
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P0")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
