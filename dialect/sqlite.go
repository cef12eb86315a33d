package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// SQLite is the embedded backend. The DSN body is a file path or ":memory:".
type SQLite struct {
	Open Opener
}

// NewSQLite returns the sqlite driver using mattn/go-sqlite3.
func NewSQLite() *SQLite {
	return &SQLite{}
}

func (d *SQLite) Name() string { return "sqlite" }

func (d *SQLite) Connect(ctx context.Context, cfg Config) (Conn, error) {
	sess, err := openSession(ctx, d.Open, d.Name(), "sqlite3", sqliteDSN(cfg), cfg.Options)
	if err != nil {
		return nil, err
	}
	return &sqliteConn{session: sess}, nil
}

func sqliteDSN(cfg Config) string {
	src := cfg.Source
	if src == "" {
		src = ":memory:"
	}
	ms := int64(60000)
	if t := cfg.Timeout(); t > 0 {
		ms = t.Milliseconds()
	}
	sep := "?"
	if strings.Contains(src, "?") {
		sep = "&"
	}
	return src + sep + "_busy_timeout=" + strconv.FormatInt(ms, 10)
}

type sqliteConn struct {
	*session
}

func (c *sqliteConn) Prepare(ctx context.Context, q string, opts Options) (Stmt, error) {
	opts = c.opts.Merge(opts)
	if Cursor(opts.Int(AttrCursor, int(CursorForwardOnly))) != CursorForwardOnly {
		return nil, sqlstate.New(sqlstate.General, "sqlite only supports forward-only cursors")
	}
	s := &sqlStmt{
		sess:    c.session,
		sql:     q,
		support: query.Named | query.Positional,
		named: func(name string, v any) any {
			return sql.Named(strings.TrimLeft(name, ":@$"), v)
		},
	}
	if opts.Bool(AttrEmulatePrepares, false) {
		s.support = query.None
		return s, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, q)
	if err != nil {
		return nil, Wrap(err)
	}
	s.stmt = stmt
	return s, nil
}

// InTransaction asks the engine, so a transaction ended by the backend
// itself is noticed.
func (c *sqliteConn) InTransaction() bool {
	inTx := c.inTx
	_ = c.conn.Raw(func(dc any) error {
		if lc, ok := dc.(*sqlite3.SQLiteConn); ok {
			inTx = !lc.AutoCommit()
		}
		return nil
	})
	return inTx
}

func (c *sqliteConn) LastInsertID(ctx context.Context, _ string) (string, error) {
	return c.queryValue(ctx, "SELECT last_insert_rowid()")
}

func (c *sqliteConn) GetAttribute(ctx context.Context, a Attr) (any, error) {
	switch a {
	case AttrClientVersion:
		v, _, _ := sqlite3.Version()
		return v, nil
	case AttrAutocommit:
		return !c.InTransaction(), nil
	}
	return c.attribute(ctx, a, "SELECT sqlite_version()")
}

func (c *sqliteConn) SetAttribute(ctx context.Context, a Attr, v any) error {
	if a != AttrTimeout {
		return sqlstate.NotCapable("attribute " + a.String())
	}
	secs := Options{a: v}.Int(a, -1)
	if secs < 0 {
		return sqlstate.New(sqlstate.InvalidAttrValue, fmt.Sprint(v))
	}
	if _, err := c.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", secs*1000)); err != nil {
		return Wrap(err)
	}
	c.opts[a] = secs
	return nil
}
