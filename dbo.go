// Package dbo is a generic database client core: one API over sqlite,
// PostgreSQL and MySQL with prepared statements, emulated or native
// placeholder binding, cursors and SQLSTATE errors.
package dbo

import (
	"github.com/shrek82/dbo/core"
	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/sqlstate"
)

// Re-export core types and functions
type DB = core.DB
type Statement = core.Statement
type Options = core.Options
type Row = core.Row
type Result = core.Result
type Field = core.Field
type Error = sqlstate.Error

var (
	Open  = core.Open
	Named = core.Named
)

// Attributes
type Attr = dialect.Attr

const (
	AttrAutocommit      = dialect.AttrAutocommit
	AttrTimeout         = dialect.AttrTimeout
	AttrErrMode         = dialect.AttrErrMode
	AttrServerVersion   = dialect.AttrServerVersion
	AttrClientVersion   = dialect.AttrClientVersion
	AttrCase            = dialect.AttrCase
	AttrCursor          = dialect.AttrCursor
	AttrNulls           = dialect.AttrNulls
	AttrPersistent      = dialect.AttrPersistent
	AttrEmulatePrepares = dialect.AttrEmulatePrepares

	ErrModeSilent    = dialect.ErrModeSilent
	ErrModeWarning   = dialect.ErrModeWarning
	ErrModeException = dialect.ErrModeException

	CaseNatural = dialect.CaseNatural
	CaseUpper   = dialect.CaseUpper
	CaseLower   = dialect.CaseLower

	NullNatural     = dialect.NullNatural
	NullEmptyString = dialect.NullEmptyString
	NullToString    = dialect.NullToString

	CursorForwardOnly = dialect.CursorForwardOnly
	CursorScrollable  = dialect.CursorScrollable

	FetchNext     = dialect.FetchNext
	FetchPrior    = dialect.FetchPrior
	FetchFirst    = dialect.FetchFirst
	FetchLast     = dialect.FetchLast
	FetchAbsolute = dialect.FetchAbsolute
	FetchRelative = dialect.FetchRelative
)

// ErrorCode returns the SQLSTATE carried by err: 00000 for nil, HY000 for
// errors from outside dbo.
var ErrorCode = sqlstate.CodeOf
