package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/lib/pq"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil",
			err:      nil,
			expected: false,
		},
		{
			name:     "bad connection",
			err:      fmt.Errorf("insert: %w", driver.ErrBadConn),
			expected: true,
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("query: %w", context.DeadlineExceeded),
			expected: true,
		},
		{
			name:     "canceled",
			err:      context.Canceled,
			expected: false,
		},
		{
			name:     "connection refused errno",
			err:      fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
			expected: true,
		},
		{
			name:     "postgres serialization failure",
			err:      &pq.Error{Code: "40001"},
			expected: true,
		},
		{
			name:     "postgres admin shutdown",
			err:      fmt.Errorf("insert: %w", &pq.Error{Code: "57P01"}),
			expected: true,
		},
		{
			name:     "postgres unique violation",
			err:      &pq.Error{Code: "23505"},
			expected: false,
		},
		{
			name:     "net timeout",
			err:      timeoutError{},
			expected: true,
		},
		{
			name:     "connection reset message",
			err:      errors.New("read tcp 127.0.0.1:5432: Connection reset by peer"),
			expected: true,
		},
		{
			name:     "validation",
			err:      errors.New("invalid input"),
			expected: false,
		},
		{
			name:     "empty error message",
			err:      errors.New(""),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRecoverableError(tt.err)
			if result != tt.expected {
				t.Errorf("IsRecoverableError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}
