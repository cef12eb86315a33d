package core

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/logger"
	"github.com/shrek82/dbo/pool"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

func failingBackend() *fakeBackend {
	b := newBackend(query.Positional)
	b.fail["SELECT * FROM missing"] = sqlstate.New(sqlstate.TableNotFound, "no such table: missing")
	return b
}

func TestErrorModes(t *testing.T) {
	cases := []struct {
		name    string
		mode    dialect.ErrMode
		wantErr bool
		wantLog bool
	}{
		{"silent", dialect.ErrModeSilent, false, false},
		{"warning", dialect.ErrModeWarning, false, true},
		{"exception", dialect.ErrModeException, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.SetLevelOutput(logger.New(), logger.LevelWarn, &buf)
			db, _ := openFake(t, failingBackend(), &Options{
				Attributes: dialect.Options{dialect.AttrErrMode: tc.mode},
				Logger:     log,
			})

			s, err := db.Query("SELECT * FROM missing")
			assert.Nil(t, s)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, sqlstate.TableNotFound, sqlstate.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, sqlstate.TableNotFound, db.ErrorCode())
			info := db.ErrorInfo()
			assert.Equal(t, "42S02", info[0])
			assert.Contains(t, info[2], "no such table")

			if tc.wantLog {
				assert.Contains(t, buf.String(), "WARN")
				assert.Contains(t, buf.String(), "42S02")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestErrorPullsFromLastStatement(t *testing.T) {
	b := newBackend(query.Positional)
	db, _ := openFake(t, b, &Options{Attributes: dialect.Options{dialect.AttrErrMode: dialect.ErrModeSilent}})

	s, err := db.Prepare("SELECT ?")
	require.NoError(t, err)
	assert.Equal(t, sqlstate.OK, db.ErrorCode())

	assert.NoError(t, s.BindValue(0, 1))
	assert.Equal(t, sqlstate.InvalidParamNumber, s.ErrorCode())
	assert.Equal(t, sqlstate.InvalidParamNumber, db.ErrorCode())

	// any connection operation releases the statement's claim
	_, err = db.Quote("x")
	require.NoError(t, err)
	assert.Equal(t, sqlstate.OK, db.ErrorCode())
	assert.Nil(t, db.Err())
	assert.Equal(t, sqlstate.InvalidParamNumber, s.ErrorCode())

	assert.NoError(t, s.BindValue(1, 1))
	assert.Equal(t, sqlstate.OK, s.ErrorCode())
}

func TestExecEmptyQuery(t *testing.T) {
	b := newBackend(query.Positional)
	db, _ := openFake(t, b, &Options{Attributes: dialect.Options{dialect.AttrErrMode: dialect.ErrModeSilent}})

	n, err := db.Exec("")
	assert.NoError(t, err)
	assert.Equal(t, int64(-1), n)
	assert.Equal(t, sqlstate.General, db.ErrorCode())
	assert.Contains(t, db.ErrorInfo()[2], "trying to execute an empty query")

	n, err = db.Exec("DELETE FROM t")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, sqlstate.OK, db.ErrorCode())
}

func TestQuote(t *testing.T) {
	db, _ := openFake(t, newBackend(query.Positional), nil)
	lit, err := db.Quote("it's")
	require.NoError(t, err)
	assert.Equal(t, "'it''s'", lit)
}

func TestLastInsertIDNotCapable(t *testing.T) {
	db, _ := openFake(t, newBackend(query.Positional), nil)
	_, err := db.LastInsertID("")
	assert.Equal(t, sqlstate.DriverNotCapable, sqlstate.CodeOf(err))
	assert.Contains(t, err.Error(), "last_insert_id()")
}

func TestCloseIsIdempotent(t *testing.T) {
	db, _ := openFake(t, newBackend(query.Positional), nil)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Prepare("SELECT 1")
	assert.Equal(t, sqlstate.ConnectionDoesNotExist, sqlstate.CodeOf(err))
	_, err = db.Exec("SELECT 1")
	assert.Equal(t, sqlstate.ConnectionDoesNotExist, sqlstate.CodeOf(err))
	assert.Error(t, db.Ping())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("nosuch:whatever", "", "", nil)
	assert.Equal(t, sqlstate.DriverNotFound, sqlstate.CodeOf(err))

	_, err = Open("fake:unregistered", "", "", &Options{Logger: logger.Discard()})
	assert.Equal(t, sqlstate.UnableToConnect, sqlstate.CodeOf(err))
}

func TestTransactionSequenceErrorsIgnoreMode(t *testing.T) {
	b := newBackend(query.Positional)
	db, _ := openFake(t, b, &Options{Attributes: dialect.Options{dialect.AttrErrMode: dialect.ErrModeSilent}})

	err := db.Commit()
	assert.Equal(t, sqlstate.NoActiveTransaction, sqlstate.CodeOf(err))
	err = db.Rollback()
	assert.Equal(t, sqlstate.NoActiveTransaction, sqlstate.CodeOf(err))

	require.NoError(t, db.Begin())
	assert.True(t, db.InTransaction())
	err = db.Begin()
	assert.Equal(t, sqlstate.ActiveTransaction, sqlstate.CodeOf(err))
	assert.Equal(t, sqlstate.ActiveTransaction, db.ErrorCode())

	require.NoError(t, db.Rollback())
	assert.False(t, db.InTransaction())
}

func TestTransactionSequenceErrorsWarn(t *testing.T) {
	var buf bytes.Buffer
	log := logger.SetLevelOutput(logger.New(), logger.LevelWarn, &buf)
	db, _ := openFake(t, newBackend(query.Positional), &Options{
		Attributes: dialect.Options{dialect.AttrErrMode: dialect.ErrModeWarning},
		Logger:     log,
	})

	err := db.Commit()
	assert.Equal(t, sqlstate.NoActiveTransaction, sqlstate.CodeOf(err))
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "25P01")

	buf.Reset()
	require.NoError(t, db.Begin())
	err = db.Begin()
	assert.Equal(t, sqlstate.ActiveTransaction, sqlstate.CodeOf(err))
	assert.Contains(t, buf.String(), "25001")
	require.NoError(t, db.Rollback())
}

func TestCommitFailureReconciles(t *testing.T) {
	b := newBackend(query.Positional)
	b.failCommit = true
	db, _ := openFake(t, b, nil)

	require.NoError(t, db.Begin())
	err := db.Commit()
	assert.Equal(t, sqlstate.SerializationFailure, sqlstate.CodeOf(err))
	assert.False(t, db.InTransaction())

	// the backend ended the transaction, so a new one can start
	require.NoError(t, db.Begin())
}

func TestTransactionHelper(t *testing.T) {
	b := newBackend(query.Positional)
	db, _ := openFake(t, b, &Options{Attributes: dialect.Options{dialect.AttrErrMode: dialect.ErrModeSilent}})

	err := db.Transaction(func(tx *DB) error {
		_, err := tx.Exec("INSERT INTO t VALUES (1)")
		return err
	})
	require.NoError(t, err)
	assert.False(t, b.inTx)

	boom := errors.New("boom")
	err = db.Transaction(func(tx *DB) error {
		assert.True(t, tx.InTransaction())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, b.inTx)

	assert.Panics(t, func() {
		db.Transaction(func(*DB) error { panic("kaboom") })
	})
	assert.False(t, db.InTransaction())

	b.failCommit = true
	err = db.Transaction(func(*DB) error { return nil })
	assert.Equal(t, sqlstate.SerializationFailure, sqlstate.CodeOf(err))
}

func TestConnectionAttributes(t *testing.T) {
	db, _ := openFake(t, newBackend(query.Positional), nil)

	mode, err := db.GetAttribute(dialect.AttrErrMode)
	require.NoError(t, err)
	assert.Equal(t, dialect.ErrModeException, mode)

	err = db.SetAttribute(dialect.AttrErrMode, 7)
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))
	err = db.SetAttribute(dialect.AttrCase, "upper")
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))
	err = db.SetAttribute(dialect.AttrPersistent, true)
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))
	err = db.SetAttribute(dialect.AttrAutocommit, "yes")
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))

	// the fake backend takes no driver attributes
	err = db.SetAttribute(dialect.AttrAutocommit, false)
	assert.Equal(t, sqlstate.DriverNotCapable, sqlstate.CodeOf(err))
	_, err = db.GetAttribute(dialect.AttrServerVersion)
	assert.Equal(t, sqlstate.DriverNotCapable, sqlstate.CodeOf(err))

	ac, err := db.GetAttribute(dialect.AttrAutocommit)
	require.NoError(t, err)
	assert.Equal(t, true, ac)

	require.NoError(t, db.SetAttribute(dialect.AttrCase, dialect.CaseUpper))
	v, err := db.GetAttribute(dialect.AttrCase)
	require.NoError(t, err)
	assert.Equal(t, dialect.CaseUpper, v)

	require.NoError(t, db.SetAttribute(dialect.AttrCursor, dialect.CursorScrollable))
	v, err = db.GetAttribute(dialect.AttrCursor)
	require.NoError(t, err)
	assert.Equal(t, dialect.CursorScrollable, v)
}

func TestCaseFolding(t *testing.T) {
	b := newBackend(query.Positional)
	b.results["SELECT Id FROM t"] = []fakeSet{{cols: textCols("Id"), rows: intRows(1)}}
	db, _ := openFake(t, b, &Options{Attributes: dialect.Options{dialect.AttrCase: dialect.CaseUpper}})

	res, err := db.Select("SELECT Id FROM t")
	require.NoError(t, err)
	require.Len(t, res, 1)
	f, ok := res[0].Get("ID")
	assert.True(t, ok)
	assert.Equal(t, "1", f.Text)
}

func TestInvalidAttributeAtOpen(t *testing.T) {
	b := newBackend(query.Positional)
	fakeBackends.Store("badattr", b)
	defer fakeBackends.Delete("badattr")

	_, err := Open("fake:badattr", "", "", &Options{Attributes: dialect.Options{dialect.AttrNulls: 9}})
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))
	assert.Equal(t, 0, b.connects)
}

func TestPersistentConnections(t *testing.T) {
	b := newBackend(query.Positional)
	fakeBackends.Store("persist", b)
	defer fakeBackends.Delete("persist")

	_, err := Open("fake:persist", "", "", &Options{Attributes: dialect.Options{dialect.AttrPersistent: true}})
	assert.Equal(t, sqlstate.InvalidAttrValue, sqlstate.CodeOf(err))

	reg := pool.NewRegistry[dialect.Conn]()
	defer reg.Close()
	opts := &Options{
		Attributes: dialect.Options{dialect.AttrPersistent: true},
		Pool:       reg,
		Logger:     logger.Discard(),
	}

	first, err := Open("fake:persist", "u", "p", opts)
	require.NoError(t, err)
	require.NoError(t, first.Begin())
	require.NoError(t, first.Close())
	assert.False(t, b.inTx)

	second, err := Open("fake:persist", "u", "p", opts)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, 1, b.connects)
	assert.Equal(t, 1, reg.Refs(pool.Key("persist", "u", "p", "")))

	persistent, err := second.GetAttribute(dialect.AttrPersistent)
	require.NoError(t, err)
	assert.Equal(t, true, persistent)

	opts.PoolID = "other"
	third, err := Open("fake:persist", "u", "p", opts)
	require.NoError(t, err)
	defer third.Close()
	assert.Equal(t, 2, b.connects)
}

type recordingMiddleware struct {
	calls    []string
	inited   bool
	shutdown bool
}

func (m *recordingMiddleware) Name() string      { return "recording" }
func (m *recordingMiddleware) Init(db *DB) error { m.inited = true; return nil }
func (m *recordingMiddleware) Shutdown() error   { m.shutdown = true; return nil }

func (m *recordingMiddleware) Process(ctx context.Context, req *Request, next SelectFunc) (Result, error) {
	m.calls = append(m.calls, req.Query)
	req.WithFields(map[string]any{"request_id": "r-1"})
	if ttl, ok := CacheTTL(ctx); ok && ttl == CacheForever {
		return Result{{{Name: "cached", Text: "yes"}}}, nil
	}
	return next(ctx, req)
}

func TestSelectThroughMiddleware(t *testing.T) {
	b := newBackend(query.Positional)
	b.results["SELECT n FROM t WHERE n > ?"] = []fakeSet{{cols: textCols("n"), rows: intRows(2)}}
	db, _ := openFake(t, b, nil)

	m := &recordingMiddleware{}
	require.NoError(t, db.Use(m))
	assert.True(t, m.inited)

	res, err := db.Select("SELECT n FROM t WHERE n > ?", 0)
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, []string{"SELECT n FROM t WHERE n > ?"}, m.calls)
	assert.Equal(t, 1, b.stmtCloses)

	res, err = db.SelectContext(WithCacheTTL(context.Background(), CacheForever), "SELECT n FROM t WHERE n > ?", 0)
	require.NoError(t, err)
	assert.Equal(t, "yes", res[0][0].Text)
	assert.Len(t, b.executed, 1)

	require.NoError(t, db.Close())
	assert.True(t, m.shutdown)
}

func TestRequestKey(t *testing.T) {
	req := &Request{Driver: "sqlite", Query: "SELECT ?", Args: []any{1}}
	assert.Equal(t, "dbo:cache:sqlite:SELECT ?:[1]", req.Key())
}

func TestFieldConversions(t *testing.T) {
	f := Field{Name: "n", Text: "12"}
	n, err := f.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = Field{Name: "n", Text: "x"}.Int()
	assert.Equal(t, sqlstate.InvalidTextRepr, sqlstate.CodeOf(err))

	b, err := Field{Text: "t"}.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	assert.Nil(t, Field{Null: true}.Native())
	row := Row{{Name: "a", Text: "1.5"}}
	v, err := row[0].Float()
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}
