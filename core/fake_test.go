package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// fakeSet is one canned row-set. A nil cell is NULL.
type fakeSet struct {
	cols []dialect.Column
	rows [][]*string
}

func cell(s string) *string { return &s }

func textCols(names ...string) []dialect.Column {
	cols := make([]dialect.Column, len(names))
	for i, n := range names {
		cols[i] = dialect.Column{Name: n, Kind: param.String, NativeType: "TEXT"}
	}
	return cols
}

func intRows(n int) [][]*string {
	rows := make([][]*string, n)
	for i := range rows {
		rows[i] = []*string{cell(strconv.Itoa(i + 1))}
	}
	return rows
}

// fakeBackend is the server behind a fake connection. Tests script results
// per query text and read back what the core sent.
type fakeBackend struct {
	support  query.Support
	template string
	results  map[string][]fakeSet
	fail     map[string]error
	// rejectNormalize makes the normalize hook refuse these names.
	rejectNormalize map[string]bool
	rejectAlloc     map[string]bool

	connects     int
	executed     []string
	prepared     []string
	params       []map[string]param.Value
	fetches      int
	cursorCloses int
	stmtCloses   int
	frees        int
	inTx         bool
	failCommit   bool
}

func newBackend(support query.Support) *fakeBackend {
	return &fakeBackend{
		support:         support,
		results:         map[string][]fakeSet{},
		fail:            map[string]error{},
		rejectNormalize: map[string]bool{},
		rejectAlloc:     map[string]bool{},
	}
}

var (
	fakeBackends sync.Map
	fakeSeq      atomic.Int64
)

type fakeDriver struct{}

func (fakeDriver) Name() string { return "fake" }

func (fakeDriver) Connect(ctx context.Context, cfg dialect.Config) (dialect.Conn, error) {
	v, ok := fakeBackends.Load(cfg.Source)
	if !ok {
		return nil, sqlstate.New(sqlstate.UnableToConnect, "no backend "+cfg.Source)
	}
	b := v.(*fakeBackend)
	b.connects++
	return &fakeConn{b: b}, nil
}

func init() {
	dialect.Register(fakeDriver{})
}

// openFake registers b under a fresh source and opens it.
func openFake(t *testing.T, b *fakeBackend, opts *Options) (*DB, string) {
	t.Helper()
	src := fmt.Sprintf("db%d", fakeSeq.Add(1))
	fakeBackends.Store(src, b)
	t.Cleanup(func() { fakeBackends.Delete(src) })
	db, err := Open("fake:"+src, "", "", opts)
	if err != nil {
		t.Fatalf("open fake: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, "fake:" + src
}

type fakeConn struct {
	b *fakeBackend
}

func (c *fakeConn) Prepare(ctx context.Context, q string, opts dialect.Options) (dialect.Stmt, error) {
	if err := c.b.fail["PREPARE "+q]; err != nil {
		return nil, err
	}
	s := &fakeStmt{
		b:       c.b,
		sql:     q,
		support: c.b.support,
		scroll:  dialect.Cursor(opts.Int(dialect.AttrCursor, 0)) == dialect.CursorScrollable,
		pos:     -1,
	}
	if opts.Bool(dialect.AttrEmulatePrepares, false) {
		s.support = query.None
	}
	if s.support != query.None {
		res, err := query.Rewriter{Native: s.support, Template: c.b.template}.Rewrite(q, nil)
		if err != nil {
			return nil, err
		}
		if res.Outcome == query.Rewritten {
			s.rewrite = res
			s.sql = res.Query
		}
	}
	c.b.prepared = append(c.b.prepared, s.sql)
	return s, nil
}

func (c *fakeConn) Exec(ctx context.Context, q string) (int64, error) {
	c.b.executed = append(c.b.executed, q)
	if err := c.b.fail[q]; err != nil {
		return -1, err
	}
	return 3, nil
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }
func (c *fakeConn) Close() error                   { return nil }

func (c *fakeConn) Begin(ctx context.Context) error {
	c.b.inTx = true
	return nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	if c.b.failCommit {
		c.b.inTx = false
		return sqlstate.New(sqlstate.SerializationFailure, "could not serialize")
	}
	c.b.inTx = false
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.b.inTx = false
	return nil
}

func (c *fakeConn) InTransaction() bool { return c.b.inTx }

type fakeStmt struct {
	b       *fakeBackend
	sql     string
	support query.Support
	rewrite *query.Result
	scroll  bool

	vals    map[string]param.Value
	sets    []fakeSet
	set     int
	pos     int
	fetched int64
}

func (s *fakeStmt) Support() query.Support { return s.support }
func (s *fakeStmt) Rewrite() *query.Result { return s.rewrite }
func (s *fakeStmt) Scrollable() bool       { return s.scroll }

func (s *fakeStmt) ParamHook(b *param.Binding, ev param.Event) error {
	switch ev {
	case param.Normalize:
		if s.b.rejectNormalize[b.Identity()] {
			return sqlstate.New(sqlstate.InvalidParamNumber, "rejected "+b.Identity())
		}
	case param.Alloc:
		if s.b.rejectAlloc[b.Identity()] {
			return sqlstate.New(sqlstate.InvalidParamNumber, "no room for "+b.Identity())
		}
	case param.Free:
		s.b.frees++
	case param.PreExecute:
		if s.vals == nil {
			s.vals = map[string]param.Value{}
		}
		key := b.Name
		if b.Position >= 0 {
			key = strconv.Itoa(b.Position)
		}
		s.vals[key] = b.Current()
	}
	return nil
}

func (s *fakeStmt) Execute(ctx context.Context, active string) error {
	q := s.sql
	if active != "" {
		q = active
	}
	s.b.executed = append(s.b.executed, q)
	s.b.params = append(s.b.params, s.vals)
	s.vals = nil
	if err := s.b.fail[q]; err != nil {
		return err
	}
	s.sets = s.b.results[q]
	s.set, s.pos, s.fetched = 0, -1, 0
	return nil
}

func (s *fakeStmt) rows() [][]*string {
	if s.set >= len(s.sets) {
		return nil
	}
	return s.sets[s.set].rows
}

func (s *fakeStmt) Fetch(ctx context.Context, ori dialect.Orientation, offset int64) (bool, error) {
	rows := s.rows()
	n := int64(len(rows))
	target := int64(s.pos)
	switch ori {
	case dialect.FetchNext:
		target++
	case dialect.FetchPrior:
		target--
	case dialect.FetchFirst:
		target = 0
	case dialect.FetchLast:
		target = n - 1
	case dialect.FetchAbsolute:
		target = offset - 1
	case dialect.FetchRelative:
		target += offset
	}
	if target < 0 || target >= n {
		if target >= n {
			s.pos = int(n)
		}
		return false, nil
	}
	s.pos = int(target)
	s.fetched++
	s.b.fetches++
	return true, nil
}

func (s *fakeStmt) ColumnCount() int {
	if s.set >= len(s.sets) {
		return 0
	}
	return len(s.sets[s.set].cols)
}

func (s *fakeStmt) Describe(col int) (dialect.Column, error) {
	if col >= s.ColumnCount() {
		return dialect.Column{}, sqlstate.New(sqlstate.InvalidColumnRef, "no such column")
	}
	return s.sets[s.set].cols[col], nil
}

func (s *fakeStmt) Value(col int) (string, bool, error) {
	v := s.rows()[s.pos][col]
	if v == nil {
		return "", true, nil
	}
	return *v, false, nil
}

func (s *fakeStmt) RowCount() int64 { return s.fetched }

func (s *fakeStmt) NextRowset(ctx context.Context) (bool, error) {
	s.set++
	s.pos = -1
	return s.set < len(s.sets), nil
}

func (s *fakeStmt) CloseCursor() error {
	s.b.cursorCloses++
	return nil
}

func (s *fakeStmt) Close() error {
	s.b.stmtCloses++
	return nil
}
