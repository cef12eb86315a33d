package dialect

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/lib/pq"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// PgsqlAttrDisablePrepares runs native-bound statements through the
// unnamed extended-protocol statement instead of a server-side PREPARE.
const PgsqlAttrDisablePrepares = AttrDriverSpecific + 1

var pgConnSeq atomic.Uint32

// Postgres is the server backend over lib/pq. The DSN body holds libpq
// keywords as semicolon separated pairs.
type Postgres struct {
	Open Opener
}

// NewPostgres returns the pgsql driver.
func NewPostgres() *Postgres {
	return &Postgres{}
}

func (d *Postgres) Name() string { return "pgsql" }

func (d *Postgres) Connect(ctx context.Context, cfg Config) (Conn, error) {
	sess, err := openSession(ctx, d.Open, d.Name(), "postgres", pgDSN(cfg), cfg.Options)
	if err != nil {
		return nil, err
	}
	return &pgConn{session: sess, id: pgConnSeq.Add(1) & 0xffff}, nil
}

func pgDSN(cfg Config) string {
	pairs := ParsePairs(cfg.Source)
	if _, ok := pairs["user"]; !ok && cfg.Username != "" {
		pairs["user"] = cfg.Username
	}
	if _, ok := pairs["password"]; !ok && cfg.Password != "" {
		pairs["password"] = cfg.Password
	}
	if t := cfg.Timeout(); t > 0 {
		pairs["connect_timeout"] = strconv.Itoa(int(t.Seconds()))
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(pairs[k])
		parts = append(parts, k+"='"+v+"'")
	}
	return strings.Join(parts, " ")
}

type pgConn struct {
	*session
	id  uint32
	seq uint32
}

func (c *pgConn) nextName(kind string) string {
	c.seq++
	return fmt.Sprintf("pgsql_%04x_%s_%08x", c.id, kind, c.seq)
}

func (c *pgConn) Prepare(ctx context.Context, q string, opts Options) (Stmt, error) {
	opts = c.opts.Merge(opts)
	s := &pgStmt{conn: c, sql: q, support: query.None}
	if Cursor(opts.Int(AttrCursor, int(CursorForwardOnly))) == CursorScrollable {
		s.cursorName = c.nextName("crsr")
		return s, nil
	}
	if opts.Bool(AttrEmulatePrepares, false) {
		return s, nil
	}
	res, err := query.Rewriter{Native: query.Named, Template: "$%d"}.Rewrite(q, nil)
	if err != nil {
		return nil, err
	}
	s.support = query.Named
	s.rewrite = res
	s.sql = res.Query
	if !opts.Bool(PgsqlAttrDisablePrepares, false) {
		s.name = c.nextName("stmt")
	}
	return s, nil
}

func (c *pgConn) Quote(v param.Value) (string, error) {
	return pgLiteral(v), nil
}

func pgLiteral(v param.Value) string {
	switch v.Kind {
	case param.Null:
		return "NULL"
	case param.Integer:
		return v.Text
	case param.Boolean:
		if v.Text == "1" {
			return "TRUE"
		}
		return "FALSE"
	case param.LargeObject:
		return `'\x` + hex.EncodeToString([]byte(v.Text)) + `'::bytea`
	}
	return pq.QuoteLiteral(v.Text)
}

func (c *pgConn) LastInsertID(ctx context.Context, seq string) (string, error) {
	if seq == "" {
		return c.queryValue(ctx, "SELECT lastval()")
	}
	return c.queryValue(ctx, "SELECT currval("+pq.QuoteLiteral(seq)+")")
}

func (c *pgConn) GetAttribute(ctx context.Context, a Attr) (any, error) {
	switch a {
	case AttrClientVersion:
		return "lib/pq", nil
	case AttrAutocommit:
		return !c.inTx, nil
	case PgsqlAttrDisablePrepares:
		return c.opts.Bool(a, false), nil
	}
	return c.attribute(ctx, a, "SHOW server_version")
}

func (c *pgConn) SetAttribute(ctx context.Context, a Attr, v any) error {
	switch a {
	case AttrEmulatePrepares, PgsqlAttrDisablePrepares:
		c.opts[a] = Options{a: v}.Bool(a, false)
		return nil
	}
	return sqlstate.NotCapable("attribute " + a.String())
}

type pgStmt struct {
	conn    *pgConn
	sql     string
	support query.Support
	rewrite *query.Result

	name     string
	prepared bool

	cursorName string
	declared   bool

	vals     map[int]param.Value
	cur      *cursor
	affected int64
}

func (s *pgStmt) Support() query.Support { return s.support }
func (s *pgStmt) Rewrite() *query.Result { return s.rewrite }
func (s *pgStmt) Scrollable() bool       { return s.cursorName != "" }

func (s *pgStmt) labels() int {
	if s.rewrite == nil {
		return 0
	}
	return len(s.rewrite.Order)
}

// ParamHook maps named and "$n" bindings onto the generated native
// positions and collects values for the next execution.
func (s *pgStmt) ParamHook(b *param.Binding, ev param.Event) error {
	if s.support != query.Named || !b.IsParam {
		return nil
	}
	switch ev {
	case param.Normalize:
		if b.Name == "" {
			return nil
		}
		label := b.Name
		if label[0] != '$' {
			l, ok := "", false
			if s.rewrite != nil {
				l, ok = s.rewrite.Labels[b.Name]
			}
			if !ok {
				return sqlstate.New(sqlstate.InvalidParamNumber, b.Name)
			}
			label = l
		}
		n, err := strconv.Atoi(label[1:])
		if err != nil || n < 1 {
			return sqlstate.New(sqlstate.InvalidParamNumber, b.Name)
		}
		b.Position = n - 1
	case param.Alloc:
		if s.labels() == 0 {
			return nil
		}
		if b.Position >= s.labels() {
			return sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
		}
	case param.PreExecute:
		if b.Position < 0 {
			return nil
		}
		if s.vals == nil {
			s.vals = make(map[int]param.Value)
		}
		s.vals[b.Position] = b.Current()
	}
	return nil
}

func (s *pgStmt) values() ([]param.Value, error) {
	n := s.labels()
	if len(s.vals) > n {
		n = len(s.vals)
	}
	out := make([]param.Value, n)
	for i := range out {
		v, ok := s.vals[i]
		if !ok {
			return nil, sqlstate.New(sqlstate.InvalidParamNumber, "parameter was not defined")
		}
		out[i] = v
	}
	return out, nil
}

func (s *pgStmt) Execute(ctx context.Context, active string) error {
	defer func() { s.vals = nil }()
	if err := s.CloseCursor(); err != nil {
		return err
	}
	s.affected = 0

	switch {
	case s.cursorName != "":
		return s.declare(ctx, active)
	case s.support == query.None:
		return s.run(ctx, active, query.ReturnsRows(active))
	}

	vals, err := s.values()
	if err != nil {
		return err
	}
	returns := query.ReturnsRows(s.sql)
	if s.name == "" {
		args := make([]any, len(vals))
		for i, v := range vals {
			args[i] = v.Native()
		}
		return s.run(ctx, s.sql, returns, args...)
	}
	if !s.prepared {
		if err := s.prepare(ctx); err != nil {
			return err
		}
	}
	q := "EXECUTE " + s.name
	if len(vals) > 0 {
		lits := make([]string, len(vals))
		for i, v := range vals {
			lits[i] = pgLiteral(v)
		}
		q += "(" + strings.Join(lits, ", ") + ")"
	}
	return s.run(ctx, q, returns)
}

// prepare creates the server-side statement. A stale statement holding the
// same name is deallocated and the prepare retried once.
func (s *pgStmt) prepare(ctx context.Context) error {
	q := "PREPARE " + s.name + " AS " + s.sql
	for retried := false; ; retried = true {
		_, err := s.conn.conn.ExecContext(ctx, q)
		if err == nil {
			s.prepared = true
			return nil
		}
		var pqErr *pq.Error
		if retried || !errors.As(err, &pqErr) || pqErr.Code != pq.ErrorCode(sqlstate.DuplicatePrepared) {
			return Wrap(err)
		}
		if _, err := s.conn.conn.ExecContext(ctx, "DEALLOCATE "+s.name); err != nil {
			return Wrap(err)
		}
	}
}

func (s *pgStmt) run(ctx context.Context, q string, returns bool, args ...any) error {
	if returns {
		rows, err := s.conn.conn.QueryContext(ctx, q, args...)
		if err != nil {
			return Wrap(err)
		}
		s.cur, err = openCursor(rows, false)
		return err
	}
	res, err := s.conn.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return Wrap(err)
	}
	s.conn.last = res
	if n, err := res.RowsAffected(); err == nil {
		s.affected = n
	}
	return nil
}

func (s *pgStmt) declare(ctx context.Context, active string) error {
	conn := s.conn.conn
	if s.declared {
		if _, err := conn.ExecContext(ctx, "CLOSE "+s.cursorName); err != nil {
			return Wrap(err)
		}
		s.declared = false
	}
	if _, err := conn.ExecContext(ctx, "DECLARE "+s.cursorName+" SCROLL CURSOR WITH HOLD FOR "+active); err != nil {
		return Wrap(err)
	}
	s.declared = true
	rows, err := conn.QueryContext(ctx, "FETCH FORWARD 0 FROM "+s.cursorName)
	if err != nil {
		return Wrap(err)
	}
	defer rows.Close()
	cols, err := rows.ColumnTypes()
	if err != nil {
		return Wrap(err)
	}
	s.cur = &cursor{rows: rows, cols: cols, pos: -1}
	return nil
}

func (s *pgStmt) Fetch(ctx context.Context, ori Orientation, offset int64) (bool, error) {
	if s.cur == nil {
		return false, nil
	}
	if s.cursorName == "" {
		return s.cur.fetch(ori, offset)
	}
	var dir string
	switch ori {
	case FetchNext:
		dir = "NEXT"
	case FetchPrior:
		dir = "PRIOR"
	case FetchFirst:
		dir = "FIRST"
	case FetchLast:
		dir = "LAST"
	case FetchAbsolute:
		dir = "ABSOLUTE " + strconv.FormatInt(offset, 10)
	case FetchRelative:
		dir = "RELATIVE " + strconv.FormatInt(offset, 10)
	default:
		return false, sqlstate.New(sqlstate.FetchTypeOutOfRange, "unknown fetch orientation")
	}
	rows, err := s.conn.conn.QueryContext(ctx, "FETCH "+dir+" FROM "+s.cursorName)
	if err != nil {
		return false, Wrap(err)
	}
	defer rows.Close()
	if !rows.Next() {
		s.cur.row = nil
		return false, Wrap(rows.Err())
	}
	row := make([]sql.NullString, len(s.cur.cols))
	dest := make([]any, len(row))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return false, Wrap(err)
	}
	s.cur.row = row
	s.cur.fetched++
	return true, nil
}

func (s *pgStmt) ColumnCount() int {
	if s.cur == nil {
		return 0
	}
	return len(s.cur.cols)
}

func (s *pgStmt) Describe(col int) (Column, error) {
	if s.cur == nil {
		return Column{}, sqlstate.New(sqlstate.FunctionSequence, "statement has no result set")
	}
	return s.cur.describe(col)
}

func (s *pgStmt) Value(col int) (string, bool, error) {
	if s.cur == nil {
		return "", true, sqlstate.New(sqlstate.InvalidCursorState, "statement has no result set")
	}
	return s.cur.value(col)
}

func (s *pgStmt) RowCount() int64 {
	if s.cur != nil {
		return s.cur.fetched
	}
	return s.affected
}

func (s *pgStmt) NextRowset(ctx context.Context) (bool, error) {
	if s.cur == nil || s.cursorName != "" {
		return false, nil
	}
	ok, err := s.cur.nextSet()
	if !ok || err != nil {
		s.cur.close()
		s.cur = nil
	}
	return ok, err
}

func (s *pgStmt) CloseCursor() error {
	if s.cur == nil {
		return nil
	}
	var err error
	if s.cursorName == "" {
		err = s.cur.close()
	}
	s.cur = nil
	return Wrap(err)
}

func (s *pgStmt) Close() error {
	err := s.CloseCursor()
	ctx := context.Background()
	if s.declared {
		if _, cerr := s.conn.conn.ExecContext(ctx, "CLOSE "+s.cursorName); err == nil {
			err = Wrap(cerr)
		}
		s.declared = false
	}
	if s.prepared {
		if _, cerr := s.conn.conn.ExecContext(ctx, "DEALLOCATE "+s.name); err == nil {
			err = Wrap(cerr)
		}
		s.prepared = false
	}
	return err
}
