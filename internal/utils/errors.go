package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

// transientPostgresClasses are SQLSTATE classes worth retrying: connection
// exceptions, transaction rollbacks, insufficient resources and operator
// intervention.
var transientPostgresClasses = []pq.ErrorClass{"08", "40", "53", "57"}

var recoverableMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
}

// IsRecoverableError reports whether retrying the operation that produced err
// could succeed.
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		for _, c := range transientPostgresClasses {
			if class == c {
				return true
			}
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range recoverableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
