package core

import (
	"context"
	"strings"
	"time"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

type stmtState int

const (
	stateUnprepared stmtState = iota
	statePrepared
	stateExecuted
	stateFetching
	stateExhausted
	stateClosed
	stateFailed
)

var stateNames = [...]string{"unprepared", "prepared", "executed", "fetching", "exhausted", "closed", "failed"}

func (s stmtState) String() string { return stateNames[s] }

// Statement is a prepared statement and, once executed, its cursor.
// A Statement is not safe for concurrent use.
type Statement struct {
	db      *DB
	drv     dialect.Stmt
	query   string
	active  string
	opts    dialect.Options
	state   stmtState
	params  bindings
	columns bindings
	cols    []dialect.Column
	// described is false until the current row-set's columns are known.
	described bool
	drained   bool
	err       *sqlstate.Error
}

// Query returns the SQL the statement was prepared with.
func (s *Statement) Query() string { return s.query }

// ActiveQuery returns the SQL last sent to the backend when values were
// inlined, or the prepared SQL otherwise.
func (s *Statement) ActiveQuery() string {
	if s.active != "" {
		return s.active
	}
	return s.query
}

// State names the statement's lifecycle state.
func (s *Statement) State() string { return s.state.String() }

func (s *Statement) ctx() context.Context { return s.db.ctx }

func (s *Statement) fail(err error) error {
	if err != nil && s.state != stateClosed {
		s.state = stateFailed
	}
	return err
}

// Execute runs the statement. Arguments, when given, replace every bound
// parameter: bare values bind by 1-based position in call order, values
// wrapped with Named bind by name.
func (s *Statement) Execute(args ...any) error {
	s.err = nil
	return s.raise(s.execute(args))
}

func (s *Statement) execute(args []any) error {
	switch {
	case s.db.closed:
		return ErrClosed
	case s.state == stateClosed:
		return ErrStmtClosed
	case s.state == stateFailed:
		return ErrStmtFailed
	}
	if len(args) > 0 {
		if err := s.bindInline(args); err != nil {
			return err
		}
	}

	s.active = ""
	if s.drv.Support() == query.None {
		res, err := query.Rewriter{Native: query.None, Quote: s.db.quoteFunc()}.Rewrite(s.query, &s.params)
		if err != nil {
			return err
		}
		if res.Outcome == query.Unchanged {
			s.active = s.query
		} else {
			s.active = res.Query
		}
	} else if err := s.dispatch(&s.params, param.PreExecute); err != nil {
		return err
	}

	start := time.Now()
	err := s.drv.Execute(s.ctx(), s.active)
	s.db.trace(s.ActiveQuery(), start, err, s.traceArgs()...)
	if err != nil {
		return s.fail(err)
	}
	s.drained = false
	s.state = stateExecuted
	if !s.described {
		if err := s.describe(); err != nil {
			return s.fail(err)
		}
	}
	if err := s.fail(s.dispatch(&s.params, param.PostExecute)); err != nil {
		return err
	}
	return s.unresolved()
}

func (s *Statement) traceArgs() []any {
	if s.active != "" {
		return nil
	}
	out := make([]any, 0, s.params.Count())
	for _, b := range s.params.list {
		out = append(out, b.Current().Native())
	}
	return out
}

func (s *Statement) dispatch(r *bindings, ev param.Event) error {
	return r.each(func(b *param.Binding) error { return s.drv.ParamHook(b, ev) })
}

// describe loads the current row-set's columns, folds their names and
// points name-bound columns at them.
func (s *Statement) describe() error {
	n := s.drv.ColumnCount()
	if n == 0 {
		return nil
	}
	cols := make([]dialect.Column, n)
	for i := range cols {
		c, err := s.drv.Describe(i)
		if err != nil {
			return err
		}
		c.Name = s.db.foldCase(c.Name)
		cols[i] = c
	}
	s.cols = cols
	s.described = true
	for _, b := range s.columns.list {
		if b.Name == "" {
			continue
		}
		b.Position = -1
		for i, c := range cols {
			if c.Name == b.Name {
				b.Position = i
				break
			}
		}
	}
	return nil
}

// unresolved reports a column bound by a name the described row-set lacks.
func (s *Statement) unresolved() error {
	if !s.described {
		return nil
	}
	for _, b := range s.columns.list {
		if b.Name != "" && b.Position < 0 {
			return columnNotFound(b.Name)
		}
	}
	return nil
}

func (s *Statement) scrollable() bool {
	sc, ok := s.drv.(dialect.Scroller)
	return ok && sc.Scrollable()
}

// step advances the backend cursor once. It reports false once the
// row-set is exhausted or the statement is not executed.
func (s *Statement) step(ori dialect.Orientation, offset int64, bind bool) (bool, error) {
	if s.db.closed {
		return false, ErrClosed
	}
	scroll := s.scrollable()
	switch s.state {
	case stateExecuted, stateFetching:
	case stateExhausted:
		if !scroll || ori == dialect.FetchNext || s.drained {
			return false, nil
		}
	case stateClosed:
		return false, ErrStmtClosed
	default:
		return false, nil
	}
	if ori != dialect.FetchNext && !scroll {
		return false, sqlstate.New(sqlstate.OperationCanceled, "fetch orientation requires a scrollable cursor")
	}
	if err := s.dispatch(&s.params, param.PreFetch); err != nil {
		return false, s.fail(err)
	}
	ok, err := s.drv.Fetch(s.ctx(), ori, offset)
	if err != nil {
		return false, s.fail(err)
	}
	if !ok {
		if !scroll || ori == dialect.FetchNext {
			s.state = stateExhausted
		}
		return false, nil
	}
	if !s.described {
		if err := s.describe(); err != nil {
			return false, s.fail(err)
		}
		if err := s.unresolved(); err != nil {
			return false, err
		}
	}
	if err := s.dispatch(&s.params, param.PostFetch); err != nil {
		return false, s.fail(err)
	}
	s.state = stateFetching
	if bind {
		if err := s.updateColumns(); err != nil {
			return false, s.fail(err)
		}
	}
	return true, nil
}

// value reads a column of the current row with the connection's null
// handling applied.
func (s *Statement) value(col int) (string, bool, error) {
	if col < 0 || col >= len(s.cols) {
		return "", true, sqlstate.Newf(sqlstate.InvalidColumnRef, "invalid column index %d", col)
	}
	text, null, err := s.drv.Value(col)
	if err != nil {
		return "", true, err
	}
	switch s.db.nulls {
	case dialect.NullEmptyString:
		if !null && text == "" {
			null = true
		}
	case dialect.NullToString:
		null = false
	}
	return text, null, nil
}

func (s *Statement) updateColumns() error {
	for _, b := range s.columns.list {
		if b.Position < 0 || b.Ref == nil {
			continue
		}
		text, null, err := s.value(b.Position)
		if err != nil {
			return err
		}
		if err := b.Ref.Store(text, null); err != nil {
			return err
		}
	}
	return nil
}

func (s *Statement) row() (Row, error) {
	row := make(Row, len(s.cols))
	for i, c := range s.cols {
		text, null, err := s.value(i)
		if err != nil {
			return nil, err
		}
		row[i] = Field{Name: c.Name, Kind: c.Kind, Text: text, Null: null}
	}
	return row, nil
}

// Fetch returns the next row, or nil once the result is exhausted.
func (s *Statement) Fetch() (Row, error) {
	return s.FetchOrientation(dialect.FetchNext, 0)
}

// FetchOrientation positions the cursor and returns the row there. Any
// orientation but FetchNext needs a scrollable cursor.
func (s *Statement) FetchOrientation(ori dialect.Orientation, offset int64) (Row, error) {
	s.err = nil
	row, err := s.fetch(ori, offset)
	if err != nil {
		return nil, s.raise(err)
	}
	return row, nil
}

func (s *Statement) fetch(ori dialect.Orientation, offset int64) (Row, error) {
	ok, err := s.step(ori, offset, true)
	if err != nil || !ok {
		return nil, err
	}
	row, err := s.row()
	if err != nil {
		return nil, s.fail(err)
	}
	return row, nil
}

// FetchColumn advances one row and returns its 0-based column col.
func (s *Statement) FetchColumn(col int) (*Field, error) {
	s.err = nil
	ok, err := s.step(dialect.FetchNext, 0, true)
	if err != nil {
		return nil, s.raise(err)
	}
	if !ok {
		return nil, nil
	}
	text, null, err := s.value(col)
	if err != nil {
		return nil, s.raise(err)
	}
	return &Field{Name: s.cols[col].Name, Kind: s.cols[col].Kind, Text: text, Null: null}, nil
}

// FetchAll reads every remaining row. A failure discards the rows read so
// far.
func (s *Statement) FetchAll() (Result, error) {
	s.err = nil
	res, err := s.fetchAll()
	if err != nil {
		return nil, s.raise(err)
	}
	return res, nil
}

func (s *Statement) fetchAll() (Result, error) {
	res := Result{}
	for {
		row, err := s.fetch(dialect.FetchNext, 0)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return res, nil
		}
		res = append(res, row)
	}
}

// CloseCursor reads and discards every remaining row and row-set so the
// backend can release the cursor. Calling it again is a no-op.
func (s *Statement) CloseCursor() error {
	s.err = nil
	return s.raise(s.closeCursor())
}

func (s *Statement) closeCursor() error {
	if s.db.closed {
		return ErrClosed
	}
	switch s.state {
	case stateExecuted, stateFetching:
	case stateExhausted:
		if s.drained {
			return nil
		}
	default:
		return nil
	}
	for {
		for {
			ok, err := s.drv.Fetch(s.ctx(), dialect.FetchNext, 0)
			if err != nil {
				return s.fail(err)
			}
			if !ok {
				break
			}
		}
		ok, err := s.nextRowset()
		if err != nil {
			if sqlstate.CodeOf(err) == sqlstate.DriverNotCapable {
				break
			}
			return s.fail(err)
		}
		if !ok {
			break
		}
	}
	if cc, ok := s.drv.(dialect.CursorCloser); ok {
		if err := cc.CloseCursor(); err != nil {
			return s.fail(err)
		}
	}
	s.state = stateExhausted
	s.drained = true
	return nil
}

// NextRowset advances to the next result set of the last execution. It
// reports false when none remain.
func (s *Statement) NextRowset() (bool, error) {
	s.err = nil
	if s.db.closed {
		return false, s.raise(ErrClosed)
	}
	switch s.state {
	case stateExecuted, stateFetching:
	case stateExhausted:
		if s.drained {
			return false, nil
		}
	case stateClosed:
		return false, s.raise(ErrStmtClosed)
	default:
		return false, nil
	}
	ok, err := s.nextRowset()
	if err != nil {
		return false, s.raise(s.fail(err))
	}
	if ok {
		return true, s.raise(s.unresolved())
	}
	return false, nil
}

func (s *Statement) nextRowset() (bool, error) {
	it, ok := s.drv.(dialect.RowsetIterator)
	if !ok {
		return false, sqlstate.NotCapable("multiple rowsets")
	}
	s.cols = nil
	s.described = false
	more, err := it.NextRowset(s.ctx())
	if err != nil {
		return false, err
	}
	if !more {
		s.state = stateExhausted
		return false, nil
	}
	if err := s.describe(); err != nil {
		return false, err
	}
	s.state = stateExecuted
	return true, nil
}

// ColumnCount returns the number of columns in the current row-set.
func (s *Statement) ColumnCount() int {
	if s.described {
		return len(s.cols)
	}
	return s.drv.ColumnCount()
}

// RowCount returns the rows affected by the last execution, or the rows
// fetched so far for a query.
func (s *Statement) RowCount() int64 { return s.drv.RowCount() }

// Columns returns the described columns of the current row-set.
func (s *Statement) Columns() []dialect.Column {
	return append([]dialect.Column(nil), s.cols...)
}

// ColumnMeta describes the 0-based column col.
func (s *Statement) ColumnMeta(col int) (*dialect.Column, error) {
	s.err = nil
	if col < 0 {
		return nil, s.raise(sqlstate.New(sqlstate.InvalidColumnRef, "column number must be non-negative"))
	}
	if col < len(s.cols) {
		c := s.cols[col]
		return &c, nil
	}
	c, err := s.drv.Describe(col)
	if err != nil {
		return nil, s.raise(err)
	}
	c.Name = s.db.foldCase(c.Name)
	return &c, nil
}

// GetAttribute answers a statement attribute.
func (s *Statement) GetAttribute(a dialect.Attr) (any, error) {
	s.err = nil
	switch a {
	case dialect.AttrEmulatePrepares:
		return s.drv.Support() == query.None, nil
	case dialect.AttrCursor:
		if s.scrollable() {
			return dialect.CursorScrollable, nil
		}
		return dialect.CursorForwardOnly, nil
	}
	if sa, ok := s.drv.(dialect.StmtAttributer); ok {
		v, err := sa.GetAttribute(a)
		if err != nil {
			return nil, s.raise(err)
		}
		return v, nil
	}
	return nil, s.raise(sqlstate.NotCapable("getting attribute " + a.String()))
}

// SetAttribute changes a statement attribute.
func (s *Statement) SetAttribute(a dialect.Attr, v any) error {
	s.err = nil
	if sa, ok := s.drv.(dialect.StmtAttributer); ok {
		return s.raise(sa.SetAttribute(a, v))
	}
	return s.raise(sqlstate.NotCapable("setting attribute " + a.String()))
}

// Reprepare prepares the statement's SQL again, dropping every binding.
// It is the only way out of the failed state.
func (s *Statement) Reprepare() error {
	s.err = nil
	if s.state == stateClosed {
		return s.raise(ErrStmtClosed)
	}
	drv, err := s.db.prepareDriver(s.query, s.opts)
	if err != nil {
		return s.raise(err)
	}
	s.release()
	s.drv = drv
	s.cols, s.described, s.drained, s.active = nil, false, false, ""
	s.state = statePrepared
	return nil
}

func (s *Statement) release() error {
	for _, b := range s.params.clear() {
		s.drv.ParamHook(b, param.Free)
	}
	for _, b := range s.columns.clear() {
		s.drv.ParamHook(b, param.Free)
	}
	return s.drv.Close()
}

// Close releases the statement and its backend resources. Closing twice is
// a no-op.
func (s *Statement) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.err = nil
	return s.raise(s.close())
}

// close releases the backend statement and detaches it from the connection.
func (s *Statement) close() error {
	if s.state == stateClosed {
		return nil
	}
	err := s.release()
	s.state = stateClosed
	delete(s.db.stmts, s)
	return err
}

func (db *DB) foldCase(name string) string {
	switch db.caseMode {
	case dialect.CaseUpper:
		return strings.ToUpper(name)
	case dialect.CaseLower:
		return strings.ToLower(name)
	}
	return name
}
