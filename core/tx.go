package core

import (
	"fmt"
	"time"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/sqlstate"
)

func (db *DB) transactor() (dialect.Transactor, error) {
	if db.closed {
		return nil, ErrClosed
	}
	tx, ok := db.conn.(dialect.Transactor)
	if !ok {
		return nil, sqlstate.NotCapable("transactions")
	}
	return tx, nil
}

// misuse records a call-sequence error. It is returned whatever the error
// mode; Warning mode logs it as well.
func (db *DB) misuse(se *sqlstate.Error) error {
	db.err = se
	db.policy(se)
	return se
}

// Begin starts a transaction. Calling it inside a transaction always
// reports 25001, whatever the error mode.
func (db *DB) Begin() error {
	db.err = nil
	if db.inTx {
		return db.misuse(ErrActiveTransaction)
	}
	return db.raise(db.begin())
}

func (db *DB) begin() error {
	if db.inTx {
		return ErrActiveTransaction
	}
	tx, err := db.transactor()
	if err != nil {
		return err
	}
	start := time.Now()
	err = tx.Begin(db.ctx)
	db.trace("BEGIN", start, err)
	if err != nil {
		return err
	}
	db.inTx = true
	return nil
}

// Commit commits the transaction. Calling it outside a transaction always
// reports 25P01, whatever the error mode.
func (db *DB) Commit() error {
	db.err = nil
	if !db.inTx {
		return db.misuse(ErrNoTransaction)
	}
	return db.raise(db.end("COMMIT"))
}

// Rollback rolls the transaction back. Calling it outside a transaction
// always reports 25P01, whatever the error mode.
func (db *DB) Rollback() error {
	db.err = nil
	if !db.inTx {
		return db.misuse(ErrNoTransaction)
	}
	return db.raise(db.end("ROLLBACK"))
}

// end commits or rolls back. After a failure the flag follows the
// backend's own view of the session.
func (db *DB) end(verb string) error {
	if !db.inTx {
		return ErrNoTransaction
	}
	tx, err := db.transactor()
	if err != nil {
		return err
	}
	start := time.Now()
	if verb == "COMMIT" {
		err = tx.Commit(db.ctx)
	} else {
		err = tx.Rollback(db.ctx)
	}
	db.trace(verb, start, err)
	if err != nil {
		db.inTx = tx.InTransaction()
		return err
	}
	db.inTx = false
	return nil
}

// InTransaction reports whether a transaction is open, as the backend sees
// it when the driver can tell.
func (db *DB) InTransaction() bool {
	if tx, ok := db.conn.(dialect.Transactor); ok && !db.closed {
		return tx.InTransaction()
	}
	return db.inTx
}

// Transaction runs fn inside a transaction. It commits when fn returns nil
// and rolls back when fn fails or panics. Errors are returned whatever the
// error mode.
func (db *DB) Transaction(fn func(db *DB) error) (err error) {
	if err = db.begin(); err != nil {
		return db.misuse(asState(err))
	}

	defer func() {
		if p := recover(); p != nil {
			db.end("ROLLBACK")
			panic(p)
		} else if err != nil {
			if rerr := db.end("ROLLBACK"); rerr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rerr)
			}
		} else if cerr := db.end("COMMIT"); cerr != nil {
			err = db.misuse(asState(cerr))
		}
	}()

	err = fn(db)
	return err
}
