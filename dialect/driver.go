package dialect

import (
	"context"
	"time"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
)

// Attr identifies a connection or statement attribute.
type Attr int

const (
	AttrAutocommit Attr = iota
	AttrTimeout
	AttrErrMode
	AttrServerVersion
	AttrClientVersion
	AttrConnectionStatus
	AttrCase
	AttrCursor
	AttrNulls
	AttrPersistent
	AttrEmulatePrepares
	AttrDriverName

	// AttrDriverSpecific starts the range reserved for backend-only options.
	AttrDriverSpecific Attr = 1000
)

var attrNames = map[Attr]string{
	AttrAutocommit:       "autocommit",
	AttrTimeout:          "timeout",
	AttrErrMode:          "error_mode",
	AttrServerVersion:    "server_version",
	AttrClientVersion:    "client_version",
	AttrConnectionStatus: "connection_status",
	AttrCase:             "case",
	AttrCursor:           "cursor",
	AttrNulls:            "nulls",
	AttrPersistent:       "persistent",
	AttrEmulatePrepares:  "emulate_prepares",
	AttrDriverName:       "driver_name",
}

func (a Attr) String() string {
	if n, ok := attrNames[a]; ok {
		return n
	}
	return "attr"
}

// ErrMode selects how failures reach the caller.
type ErrMode int

const (
	ErrModeSilent ErrMode = iota
	ErrModeWarning
	ErrModeException
)

// Case selects column name folding.
type Case int

const (
	CaseNatural Case = iota
	CaseUpper
	CaseLower
)

// Nulls selects how fetched NULLs and empty strings are reported.
type Nulls int

const (
	NullNatural Nulls = iota
	NullEmptyString
	NullToString
)

// Cursor selects the cursor kind a statement is prepared with.
type Cursor int

const (
	CursorForwardOnly Cursor = iota
	CursorScrollable
)

// Options carries attribute values to Connect and Prepare.
type Options map[Attr]any

// Int reads an integer-like attribute.
func (o Options) Int(a Attr, def int) int {
	switch v := o[a].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case ErrMode:
		return int(v)
	case Case:
		return int(v)
	case Nulls:
		return int(v)
	case Cursor:
		return int(v)
	case time.Duration:
		return int(v / time.Second)
	}
	return def
}

// Bool reads a flag attribute.
func (o Options) Bool(a Attr, def bool) bool {
	if _, ok := o[a]; !ok {
		return def
	}
	return o.Int(a, 0) != 0
}

// Merge returns a copy of o overlaid with extra.
func (o Options) Merge(extra Options) Options {
	out := make(Options, len(o)+len(extra))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Config is what a Driver needs to open a session.
type Config struct {
	Source   string
	Username string
	Password string
	Options  Options
}

// Timeout returns the configured connect timeout, zero when unset.
func (c Config) Timeout() time.Duration {
	if d, ok := c.Options[AttrTimeout].(time.Duration); ok {
		return d
	}
	return time.Duration(c.Options.Int(AttrTimeout, 0)) * time.Second
}

// Driver is a backend integration. Connect opens one session.
type Driver interface {
	Name() string
	Connect(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is one backend session.
type Conn interface {
	Prepare(ctx context.Context, sql string, opts Options) (Stmt, error)
	Exec(ctx context.Context, sql string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Quoter renders literals for emulated binding and DB.Quote.
type Quoter interface {
	Quote(v param.Value) (string, error)
}

// Transactor is implemented by sessions with transaction control.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool
}

// InsertIDer reports the id generated by the last insert.
type InsertIDer interface {
	LastInsertID(ctx context.Context, sequence string) (string, error)
}

// AttributeGetter answers driver attributes.
type AttributeGetter interface {
	GetAttribute(ctx context.Context, a Attr) (any, error)
}

// AttributeSetter accepts driver attributes.
type AttributeSetter interface {
	SetAttribute(ctx context.Context, a Attr, v any) error
}

// Orientation is the direction of a fetch.
type Orientation int

const (
	FetchNext Orientation = iota
	FetchPrior
	FetchFirst
	FetchLast
	FetchAbsolute
	FetchRelative
)

// Column describes one result column.
type Column struct {
	Name       string     `json:"name"`
	Table      string     `json:"table,omitempty"`
	Kind       param.Kind `json:"kind"`
	NativeType string     `json:"native_type,omitempty"`
	Len        int64      `json:"len,omitempty"`
	Precision  int64      `json:"precision,omitempty"`
}

// Stmt is a prepared statement on a session. Execute receives the fully
// inlined query when Support reports None, and "" otherwise.
type Stmt interface {
	Support() query.Support
	Execute(ctx context.Context, active string) error
	Fetch(ctx context.Context, ori Orientation, offset int64) (bool, error)
	ColumnCount() int
	Describe(col int) (Column, error)
	Value(col int) (text string, null bool, err error)
	RowCount() int64
	ParamHook(b *param.Binding, ev param.Event) error
	Close() error
}

// Rewritten exposes the placeholder rewrite a driver applied at prepare.
type Rewritten interface {
	Rewrite() *query.Result
}

// Scroller reports whether non-Next orientations are available.
type Scroller interface {
	Scrollable() bool
}

// RowsetIterator advances to the next result set of one execution.
type RowsetIterator interface {
	NextRowset(ctx context.Context) (bool, error)
}

// CursorCloser releases backend cursor resources after the core drained it.
type CursorCloser interface {
	CloseCursor() error
}

// StmtAttributer accepts and answers statement attributes.
type StmtAttributer interface {
	GetAttribute(a Attr) (any, error)
	SetAttribute(a Attr, v any) error
}
