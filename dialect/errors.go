package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/shrek82/dbo/sqlstate"
)

// pgFatalError is the native code reported for server errors, matching the
// fatal result status of the wire protocol.
const pgFatalError = 7

// Wrap classifies a backend error by SQLSTATE. Errors that are already
// *sqlstate.Error pass through unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlstate.Error
	if errors.As(err, &se) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &sqlstate.Error{Code: sqlstate.Code(pqErr.Code), Native: pgFatalError, Message: pqMessage(pqErr)}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		code := sqlstate.Code(myErr.SQLState[:])
		if myErr.SQLState == [5]byte{} {
			code = mysqlCode(myErr.Number)
		}
		return &sqlstate.Error{Code: code, Native: int64(myErr.Number), Message: myErr.Message}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &sqlstate.Error{Code: sqliteCode(liteErr), Native: int64(liteErr.Code), Message: liteErr.Error()}
	}

	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, mysql.ErrInvalidConn):
		return &sqlstate.Error{Code: sqlstate.ConnectionDoesNotExist, Message: err.Error()}
	case errors.Is(err, sql.ErrTxDone):
		return &sqlstate.Error{Code: sqlstate.NoActiveTransaction, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &sqlstate.Error{Code: sqlstate.Timeout, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &sqlstate.Error{Code: sqlstate.OperationCanceled, Message: err.Error()}
	}
	return &sqlstate.Error{Code: sqlstate.General, Message: err.Error()}
}

// wrapConnect is Wrap with general failures reported as 08001.
func wrapConnect(err error) error {
	err = Wrap(err)
	var se *sqlstate.Error
	if errors.As(err, &se) && se.Code == sqlstate.General {
		se.Code = sqlstate.UnableToConnect
	}
	return err
}

func pqMessage(e *pq.Error) string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func mysqlCode(n uint16) sqlstate.Code {
	switch n {
	case 1062, 1451, 1452, 1048:
		return sqlstate.IntegrityViolation
	case 1064:
		return sqlstate.SyntaxOrAccess
	case 1146:
		return sqlstate.TableNotFound
	case 1213:
		return sqlstate.SerializationFailure
	case 1205:
		return sqlstate.Timeout
	case 2002, 2003, 2005:
		return sqlstate.UnableToConnect
	case 2006, 2013:
		return sqlstate.ConnectionFailure
	}
	return sqlstate.General
}

func sqliteCode(e sqlite3.Error) sqlstate.Code {
	switch e.Code {
	case sqlite3.ErrNotFound:
		return sqlstate.TableNotFound
	case sqlite3.ErrInterrupt:
		return "01002"
	case sqlite3.ErrNoLFS:
		return sqlstate.NotImplemented
	case sqlite3.ErrTooBig:
		return sqlstate.StringTruncated
	case sqlite3.ErrConstraint:
		return sqlstate.IntegrityViolation
	case sqlite3.ErrCantOpen:
		return sqlstate.UnableToConnect
	}
	if strings.Contains(e.Error(), "no such table") {
		return sqlstate.TableNotFound
	}
	return sqlstate.General
}
