package dialect

import (
	"context"
	"database/sql"
	"reflect"
	"sort"
	"strings"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// Opener opens a database/sql handle. Drivers default to sql.Open.
type Opener func(driverName, dsn string) (*sql.DB, error)

// session pins one *sql.Conn so that transaction statements, session
// variables and server-side prepared names all see the same backend session.
type session struct {
	name     string
	db       *sql.DB
	conn     *sql.Conn
	opts     Options
	inTx     bool
	last     sql.Result
	beginSQL string
}

func openSession(ctx context.Context, open Opener, name, sqlDriver, dsn string, opts Options) (*session, error) {
	if open == nil {
		open = sql.Open
	}
	db, err := open(sqlDriver, dsn)
	if err != nil {
		return nil, wrapConnect(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, wrapConnect(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, wrapConnect(err)
	}
	if opts == nil {
		opts = Options{}
	}
	return &session{name: name, db: db, conn: conn, opts: opts, beginSQL: "BEGIN"}, nil
}

func (s *session) Exec(ctx context.Context, q string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, q)
	if err != nil {
		return -1, Wrap(err)
	}
	s.last = res
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s *session) Ping(ctx context.Context) error {
	return Wrap(s.conn.PingContext(ctx))
}

func (s *session) Close() error {
	err := s.conn.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *session) Begin(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, s.beginSQL); err != nil {
		return Wrap(err)
	}
	s.inTx = true
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return Wrap(err)
	}
	s.inTx = false
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return Wrap(err)
	}
	s.inTx = false
	return nil
}

func (s *session) InTransaction() bool { return s.inTx }

func (s *session) queryValue(ctx context.Context, q string) (string, error) {
	var v sql.NullString
	if err := s.conn.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return "", Wrap(err)
	}
	return v.String, nil
}

// attribute answers the attributes every database/sql backed session knows.
func (s *session) attribute(ctx context.Context, a Attr, versionSQL string) (any, error) {
	switch a {
	case AttrDriverName:
		return s.name, nil
	case AttrServerVersion:
		return s.queryValue(ctx, versionSQL)
	case AttrConnectionStatus:
		if err := s.conn.PingContext(ctx); err != nil {
			return nil, Wrap(err)
		}
		return "connected", nil
	case AttrTimeout, AttrEmulatePrepares:
		v, ok := s.opts[a]
		if !ok {
			return nil, sqlstate.NotCapable("attribute " + a.String())
		}
		return v, nil
	}
	return nil, sqlstate.NotCapable("attribute " + a.String())
}

// argSet collects native values pushed by PreExecute hooks.
type argSet struct {
	pos   map[int]any
	named map[string]any
}

func (a *argSet) set(b *param.Binding) {
	if a.pos == nil {
		a.pos = make(map[int]any)
		a.named = make(map[string]any)
	}
	v := b.Current().Native()
	if b.Position >= 0 {
		a.pos[b.Position] = v
		return
	}
	a.named[b.Name] = v
}

func (a *argSet) reset() {
	a.pos = nil
	a.named = nil
}

// list orders positional values by index and appends named values through
// wrap. Gaps in the positional range are undefined parameters.
func (a *argSet) list(wrap func(name string, v any) any) ([]any, error) {
	out := make([]any, len(a.pos), len(a.pos)+len(a.named))
	for i := range out {
		v, ok := a.pos[i]
		if !ok {
			return nil, sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
		}
		out[i] = v
	}
	if len(a.named) == 0 {
		return out, nil
	}
	if wrap == nil {
		return nil, sqlstate.New(sqlstate.InvalidParamNumber, "named parameters are not supported")
	}
	names := make([]string, 0, len(a.named))
	for n := range a.named {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		out = append(out, wrap(n, a.named[n]))
	}
	return out, nil
}

// cursor walks a *sql.Rows. A scrollable cursor materializes the row-set so
// that every orientation can be served.
type cursor struct {
	rows     *sql.Rows
	cols     []*sql.ColumnType
	row      []sql.NullString
	scroll   bool
	buffered [][]sql.NullString
	pos      int
	fetched  int64
}

func openCursor(rows *sql.Rows, scroll bool) (*cursor, error) {
	c := &cursor{rows: rows, scroll: scroll}
	if err := c.load(); err != nil {
		rows.Close()
		return nil, err
	}
	return c, nil
}

func (c *cursor) load() error {
	cols, err := c.rows.ColumnTypes()
	if err != nil {
		return Wrap(err)
	}
	c.cols = cols
	c.row = nil
	c.pos = -1
	c.buffered = nil
	if !c.scroll {
		return nil
	}
	for c.rows.Next() {
		row, err := c.scan()
		if err != nil {
			return err
		}
		c.buffered = append(c.buffered, row)
	}
	return Wrap(c.rows.Err())
}

func (c *cursor) scan() ([]sql.NullString, error) {
	row := make([]sql.NullString, len(c.cols))
	dest := make([]any, len(row))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, Wrap(err)
	}
	return row, nil
}

func (c *cursor) fetch(ori Orientation, offset int64) (bool, error) {
	if !c.scroll {
		if ori != FetchNext {
			return false, sqlstate.New(sqlstate.OperationCanceled, "cursor is forward-only")
		}
		if !c.rows.Next() {
			c.row = nil
			return false, Wrap(c.rows.Err())
		}
		row, err := c.scan()
		if err != nil {
			return false, err
		}
		c.row = row
		c.fetched++
		return true, nil
	}

	n := len(c.buffered)
	target := c.pos
	switch ori {
	case FetchNext:
		target++
	case FetchPrior:
		target--
	case FetchFirst:
		target = 0
	case FetchLast:
		target = n - 1
	case FetchAbsolute:
		target = int(offset) - 1
	case FetchRelative:
		target += int(offset)
	default:
		return false, sqlstate.New(sqlstate.FetchTypeOutOfRange, "unknown fetch orientation")
	}
	switch {
	case target < 0:
		c.pos, c.row = -1, nil
		return false, nil
	case target >= n:
		c.pos, c.row = n, nil
		return false, nil
	}
	c.pos = target
	c.row = c.buffered[target]
	c.fetched++
	return true, nil
}

func (c *cursor) value(col int) (string, bool, error) {
	if c.row == nil {
		return "", true, sqlstate.New(sqlstate.InvalidCursorState, "no current row")
	}
	if col < 0 || col >= len(c.row) {
		return "", true, sqlstate.Newf(sqlstate.InvalidColumnRef, "column %d out of range", col)
	}
	v := c.row[col]
	return v.String, !v.Valid, nil
}

func (c *cursor) describe(col int) (Column, error) {
	if col < 0 || col >= len(c.cols) {
		return Column{}, sqlstate.Newf(sqlstate.InvalidColumnRef, "column %d out of range", col)
	}
	ct := c.cols[col]
	meta := Column{Name: ct.Name(), NativeType: ct.DatabaseTypeName(), Kind: kindOf(ct)}
	if l, ok := ct.Length(); ok {
		meta.Len = l
	}
	if p, _, ok := ct.DecimalSize(); ok {
		meta.Precision = p
	}
	return meta, nil
}

func (c *cursor) nextSet() (bool, error) {
	if !c.rows.NextResultSet() {
		return false, Wrap(c.rows.Err())
	}
	if err := c.load(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *cursor) close() error {
	return c.rows.Close()
}

func kindOf(ct *sql.ColumnType) param.Kind {
	name := strings.ToUpper(ct.DatabaseTypeName())
	switch {
	case name == "":
	case strings.Contains(name, "BOOL"):
		return param.Boolean
	case strings.Contains(name, "INT") || name == "SERIAL" || name == "BIGSERIAL":
		return param.Integer
	case strings.Contains(name, "FLOAT") || strings.Contains(name, "DOUBLE") || name == "REAL" ||
		name == "NUMERIC" || name == "DECIMAL":
		return param.Float
	case strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY") || name == "BYTEA":
		return param.LargeObject
	default:
		return param.String
	}
	if st := ct.ScanType(); st != nil {
		switch st.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return param.Integer
		case reflect.Float32, reflect.Float64:
			return param.Float
		case reflect.Bool:
			return param.Boolean
		}
	}
	return param.String
}

// sqlStmt is a statement over a session's *sql.Conn, used by the sqlite and
// mysql backends.
type sqlStmt struct {
	sess     *session
	sql      string
	support  query.Support
	rewrite  *query.Result
	stmt     *sql.Stmt
	scroll   bool
	named    func(name string, v any) any
	args     argSet
	cur      *cursor
	affected int64
}

func (s *sqlStmt) Support() query.Support { return s.support }
func (s *sqlStmt) Rewrite() *query.Result { return s.rewrite }
func (s *sqlStmt) Scrollable() bool       { return s.scroll }
func (s *sqlStmt) ParamHook(b *param.Binding, ev param.Event) error {
	if ev == param.PreExecute && b.IsParam {
		s.args.set(b)
	}
	return nil
}

func (s *sqlStmt) Execute(ctx context.Context, active string) error {
	defer s.args.reset()
	if err := s.CloseCursor(); err != nil {
		return err
	}
	s.affected = 0

	q := s.sql
	var args []any
	if active != "" {
		q = active
	} else {
		var err error
		if args, err = s.args.list(s.named); err != nil {
			return err
		}
	}

	if query.ReturnsRows(q) {
		var (
			rows *sql.Rows
			err  error
		)
		if s.stmt != nil && active == "" {
			rows, err = s.stmt.QueryContext(ctx, args...)
		} else {
			rows, err = s.sess.conn.QueryContext(ctx, q, args...)
		}
		if err != nil {
			return Wrap(err)
		}
		s.cur, err = openCursor(rows, s.scroll)
		return err
	}

	var (
		res sql.Result
		err error
	)
	if s.stmt != nil && active == "" {
		res, err = s.stmt.ExecContext(ctx, args...)
	} else {
		res, err = s.sess.conn.ExecContext(ctx, q, args...)
	}
	if err != nil {
		return Wrap(err)
	}
	s.sess.last = res
	if n, err := res.RowsAffected(); err == nil {
		s.affected = n
	}
	return nil
}

func (s *sqlStmt) Fetch(ctx context.Context, ori Orientation, offset int64) (bool, error) {
	if s.cur == nil {
		return false, nil
	}
	return s.cur.fetch(ori, offset)
}

func (s *sqlStmt) ColumnCount() int {
	if s.cur == nil {
		return 0
	}
	return len(s.cur.cols)
}

func (s *sqlStmt) Describe(col int) (Column, error) {
	if s.cur == nil {
		return Column{}, sqlstate.New(sqlstate.FunctionSequence, "statement has no result set")
	}
	return s.cur.describe(col)
}

func (s *sqlStmt) Value(col int) (string, bool, error) {
	if s.cur == nil {
		return "", true, sqlstate.New(sqlstate.InvalidCursorState, "statement has no result set")
	}
	return s.cur.value(col)
}

func (s *sqlStmt) RowCount() int64 {
	if s.cur != nil {
		return s.cur.fetched
	}
	return s.affected
}

func (s *sqlStmt) NextRowset(ctx context.Context) (bool, error) {
	if s.cur == nil {
		return false, nil
	}
	ok, err := s.cur.nextSet()
	if !ok || err != nil {
		s.cur.close()
		s.cur = nil
	}
	return ok, err
}

func (s *sqlStmt) CloseCursor() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.close()
	s.cur = nil
	return Wrap(err)
}

func (s *sqlStmt) Close() error {
	err := s.CloseCursor()
	if s.stmt != nil {
		if cerr := s.stmt.Close(); err == nil {
			err = Wrap(cerr)
		}
		s.stmt = nil
	}
	return err
}
