// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrStoreUnavailable marks transient store failures that may succeed on retry
var ErrStoreUnavailable = errors.New("store unavailable")

const (
	pqUniqueViolation        = "23505"
	pqSerializationFailure   = "40001"
	pqDeadlockDetected       = "40P01"
	pqAdminShutdown          = "57P01"
	pqConnectionExceptionCls = "08"
)

// Classify wraps transient driver errors with ErrStoreUnavailable and passes everything else through
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure in either dialect
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}

	return false
}

// IsTransient reports whether err is a lock, busy or connection failure
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	// The caller gave up; retrying would not help
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		primary := sqliteErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected, pqAdminShutdown:
			return true
		}
		return string(pqErr.Code.Class()) == pqConnectionExceptionCls
	}

	return false
}
