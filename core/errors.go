package core

import (
	"errors"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/sqlstate"
)

var (
	// ErrClosed is reported by operations on a closed connection.
	ErrClosed = sqlstate.New(sqlstate.ConnectionDoesNotExist, "connection is closed")
	// ErrStmtClosed is reported by operations on a closed statement.
	ErrStmtClosed = sqlstate.New(sqlstate.FunctionSequence, "statement is closed")
	// ErrStmtFailed is reported when a failed statement is executed again
	// without Reprepare.
	ErrStmtFailed = sqlstate.New(sqlstate.FunctionSequence, "statement failed and must be prepared again")
	// ErrActiveTransaction is reported by Begin inside a transaction.
	ErrActiveTransaction = sqlstate.New(sqlstate.ActiveTransaction, "There is already an active transaction")
	// ErrNoTransaction is reported by Commit and Rollback outside a transaction.
	ErrNoTransaction = sqlstate.New(sqlstate.NoActiveTransaction, "There is no active transaction")
)

// asState classifies any error as a *sqlstate.Error.
func asState(err error) *sqlstate.Error {
	var se *sqlstate.Error
	if errors.As(dialect.Wrap(err), &se) {
		return se
	}
	return sqlstate.New(sqlstate.General, err.Error())
}

// policy applies the connection's error mode to a recorded failure.
func (db *DB) policy(se *sqlstate.Error) error {
	switch db.errMode {
	case dialect.ErrModeException:
		return se
	case dialect.ErrModeWarning:
		db.log.Warn("%s", se.Error())
	}
	return nil
}

// raise records err on the connection and applies the error mode.
func (db *DB) raise(err error) error {
	if err == nil {
		return nil
	}
	db.err = asState(err)
	return db.policy(db.err)
}

// reset clears the connection's own error and releases the last statement's
// claim on it.
func (db *DB) reset() {
	db.err = nil
	db.last = nil
}

// ErrorCode returns the SQLSTATE of the most recent failure. A statement
// created by the last Prepare or Query reports through its own state.
func (db *DB) ErrorCode() sqlstate.Code {
	if db.last != nil {
		return db.last.ErrorCode()
	}
	if db.err == nil {
		return sqlstate.OK
	}
	return db.err.Code
}

// ErrorInfo returns code, native code and message of the most recent failure.
func (db *DB) ErrorInfo() [3]string {
	if db.last != nil {
		return db.last.ErrorInfo()
	}
	return db.err.Info()
}

// Err returns the most recent failure, or nil.
func (db *DB) Err() error {
	if db.last != nil {
		return db.last.Err()
	}
	if db.err == nil {
		return nil
	}
	return db.err
}

// raise records err on the statement and applies the owning connection's
// error mode.
func (s *Statement) raise(err error) error {
	if err == nil {
		return nil
	}
	s.err = asState(err)
	return s.db.policy(s.err)
}

// ErrorCode returns the SQLSTATE of the statement's last failure.
func (s *Statement) ErrorCode() sqlstate.Code {
	if s.err == nil {
		return sqlstate.OK
	}
	return s.err.Code
}

// ErrorInfo returns code, native code and message of the last failure.
func (s *Statement) ErrorInfo() [3]string {
	return s.err.Info()
}

// Err returns the statement's last failure, or nil.
func (s *Statement) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}
