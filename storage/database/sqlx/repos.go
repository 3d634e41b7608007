// Package sqlxrepos implements the core repositories on PostgreSQL via sqlx.
//
// Every call runs under the configured database timeout; timeouts and
// connection-class failures surface as core.StorageError so callers can
// retry, while business-rule violations map onto the domain sentinels.
package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strconv"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
)

// pq error classes that warrant a retry rather than a bug report
var transientPqClasses = map[string]bool{
	"08": true, // connection exceptions
	"53": true, // insufficient resources
	"57": true, // operator intervention (shutdown...)
}

func dbCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, core.Conf.Database.Timeout)
}

// wrapErr classifies a database error: transient failures become
// core.StorageError, anything else is wrapped with msg.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == driver.ErrBadConn {
		return core.NewStorageError(err)
	}
	if pqErr, ok := err.(*pq.Error); ok {
		if transientPqClasses[string(pqErr.Code.Class())] {
			return core.NewStorageError(err)
		}
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func noRows(err error) bool {
	return err == sql.ErrNoRows
}

// itoa keeps dynamic placeholder building readable.
func itoa(n int) string {
	return strconv.Itoa(n)
}
