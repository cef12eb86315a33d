package core

import (
	"time"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/sqlstate"
)

// enumValue reads an attribute value that must be an integer in [0, max].
func enumValue(v any, max int) (int, bool) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case dialect.ErrMode:
		n = int(x)
	case dialect.Case:
		n = int(x)
	case dialect.Nulls:
		n = int(x)
	case dialect.Cursor:
		n = int(x)
	default:
		return 0, false
	}
	return n, n >= 0 && n <= max
}

func boolValue(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	}
	return false, false
}

// setGeneric handles the attributes the core owns. It reports IM001 for
// any other attribute.
func (db *DB) setGeneric(a dialect.Attr, v any) error {
	switch a {
	case dialect.AttrErrMode:
		n, ok := enumValue(v, int(dialect.ErrModeException))
		if !ok {
			return sqlstate.New(sqlstate.InvalidAttrValue, "invalid error mode")
		}
		db.errMode = dialect.ErrMode(n)
	case dialect.AttrCase:
		n, ok := enumValue(v, int(dialect.CaseLower))
		if !ok {
			return sqlstate.New(sqlstate.InvalidAttrValue, "invalid case folding mode")
		}
		db.caseMode = dialect.Case(n)
	case dialect.AttrNulls:
		n, ok := enumValue(v, int(dialect.NullToString))
		if !ok {
			return sqlstate.New(sqlstate.InvalidAttrValue, "invalid null handling mode")
		}
		db.nulls = dialect.Nulls(n)
	case dialect.AttrCursor:
		n, ok := enumValue(v, int(dialect.CursorScrollable))
		if !ok {
			return sqlstate.New(sqlstate.InvalidAttrValue, "invalid cursor kind")
		}
		db.opts[dialect.AttrCursor] = dialect.Cursor(n)
	case dialect.AttrEmulatePrepares:
		b, ok := boolValue(v)
		if !ok {
			return sqlstate.New(sqlstate.InvalidAttrValue, "emulate_prepares expects a boolean")
		}
		db.opts[dialect.AttrEmulatePrepares] = b
	default:
		return sqlstate.NotCapable("attribute " + a.String())
	}
	return nil
}

// SetAttribute changes a connection attribute. Error mode, case folding,
// null handling, cursor kind and prepare emulation are handled here; the
// rest goes to the driver.
func (db *DB) SetAttribute(a dialect.Attr, v any) error {
	db.err = nil
	switch a {
	case dialect.AttrErrMode, dialect.AttrCase, dialect.AttrNulls, dialect.AttrCursor, dialect.AttrEmulatePrepares:
		return db.raise(db.setGeneric(a, v))
	case dialect.AttrPersistent:
		return db.raise(sqlstate.New(sqlstate.InvalidAttrValue, "persistence can only be chosen when opening a connection"))
	case dialect.AttrAutocommit:
		on, ok := boolValue(v)
		if !ok {
			return db.raise(sqlstate.New(sqlstate.InvalidAttrValue, "autocommit expects a boolean"))
		}
		v = on
	}
	setter, ok := db.conn.(dialect.AttributeSetter)
	if !ok {
		return db.raise(sqlstate.NotCapable("setting attribute " + a.String()))
	}
	if err := setter.SetAttribute(db.ctx, a, v); err != nil {
		return db.raise(err)
	}
	if a == dialect.AttrAutocommit {
		db.autocommit = v.(bool)
	}
	return nil
}

// GetAttribute answers a connection attribute.
func (db *DB) GetAttribute(a dialect.Attr) (any, error) {
	db.err = nil
	switch a {
	case dialect.AttrErrMode:
		return db.errMode, nil
	case dialect.AttrCase:
		return db.caseMode, nil
	case dialect.AttrNulls:
		return db.nulls, nil
	case dialect.AttrPersistent:
		return db.persistent, nil
	case dialect.AttrAutocommit:
		return db.autocommit, nil
	case dialect.AttrCursor:
		return dialect.Cursor(db.opts.Int(dialect.AttrCursor, int(dialect.CursorForwardOnly))), nil
	}
	getter, ok := db.conn.(dialect.AttributeGetter)
	if !ok {
		return nil, db.raise(sqlstate.NotCapable("that attribute"))
	}
	v, err := getter.GetAttribute(db.ctx, a)
	if err != nil {
		return nil, db.raise(err)
	}
	if d, ok := v.(time.Duration); ok && a == dialect.AttrTimeout {
		return int(d / time.Second), nil
	}
	return v, nil
}
