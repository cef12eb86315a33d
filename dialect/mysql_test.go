package dialect

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
)

func mockMySQL(t *testing.T) (Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	d := &MySQL{Open: func(string, string) (*sql.DB, error) { return db, nil }}
	conn, err := d.Connect(context.Background(), Config{Source: "host=db;dbname=app"})
	require.NoError(t, err)
	return conn, mock
}

func TestMySQLDSN(t *testing.T) {
	dsn, err := mysqlDSN(Config{
		Source:   "host=db;port=3307;dbname=app;charset=utf8mb4",
		Username: "root",
		Password: "secret",
		Options:  Options{AttrTimeout: 2},
	})
	require.NoError(t, err)
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "db:3307", cfg.Addr)
	assert.Equal(t, "app", cfg.DBName)
	assert.Equal(t, 2*time.Second, cfg.Timeout)

	_, err = mysqlDSN(Config{Source: "host=db;port=abc"})
	assert.Error(t, err)

	dsn, err = mysqlDSN(Config{Source: "unix_socket=/tmp/mysql.sock"})
	require.NoError(t, err)
	cfg, err = mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "unix", cfg.Net)
}

func TestMySQLNamedRewrittenToPositional(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockMySQL(t)

	prep := mock.ExpectPrepare(regexp.QuoteMeta("SELECT a FROM t WHERE a=? AND b=?"))
	s, err := conn.Prepare(ctx, "SELECT a FROM t WHERE a=:x AND b=:y", nil)
	require.NoError(t, err)
	assert.Equal(t, query.Positional, s.Support())
	assert.Equal(t, []string{":x", ":y"}, s.(Rewritten).Rewrite().Order)

	bindValue(t, s, &param.Binding{Position: 0, Name: ":x", IsParam: true, Value: param.Int(1)})
	bindValue(t, s, &param.Binding{Position: 1, Name: ":y", IsParam: true, Value: param.Text("v")})

	prep.ExpectQuery().WithArgs(int64(1), "v").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1))
	require.NoError(t, s.Execute(ctx, ""))
	ok, err := s.Fetch(ctx, FetchNext, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), s.RowCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLScrollableBuffersRows(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockMySQL(t)

	prep := mock.ExpectPrepare("SELECT a FROM t")
	s, err := conn.Prepare(ctx, "SELECT a FROM t", Options{AttrCursor: CursorScrollable})
	require.NoError(t, err)
	prep.ExpectQuery().WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1).AddRow(2).AddRow(3))
	require.NoError(t, s.Execute(ctx, ""))

	steps := []struct {
		ori    Orientation
		offset int64
		ok     bool
		want   string
	}{
		{FetchLast, 0, true, "3"},
		{FetchPrior, 0, true, "2"},
		{FetchFirst, 0, true, "1"},
		{FetchRelative, 2, true, "3"},
		{FetchAbsolute, 2, true, "2"},
		{FetchAbsolute, 4, false, ""},
		{FetchPrior, 0, true, "3"},
	}
	for _, st := range steps {
		ok, err := s.Fetch(ctx, st.ori, st.offset)
		require.NoError(t, err)
		require.Equal(t, st.ok, ok)
		if ok {
			v, _, _ := s.Value(0)
			assert.Equal(t, st.want, v)
		}
	}
}

func TestMySQLExecAndInsertID(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockMySQL(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO t VALUES (1)")).WillReturnResult(sqlmock.NewResult(42, 1))
	n, err := conn.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	id, err := conn.(InsertIDer).LastInsertID(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestMySQLTransactionAndAutocommit(t *testing.T) {
	ctx := context.Background()
	conn, mock := mockMySQL(t)

	mock.ExpectExec("START TRANSACTION").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("COMMIT").WillReturnResult(sqlmock.NewResult(0, 0))
	tx := conn.(Transactor)
	require.NoError(t, tx.Begin(ctx))
	assert.True(t, tx.InTransaction())
	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.InTransaction())

	mock.ExpectExec("SET autocommit = 0").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, conn.(AttributeSetter).SetAttribute(ctx, AttrAutocommit, false))
	v, err := conn.(AttributeGetter).GetAttribute(ctx, AttrAutocommit)
	require.NoError(t, err)
	assert.Equal(t, false, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLQuote(t *testing.T) {
	c := &mysqlConn{}
	got, err := c.Quote(param.Text("a'b\\c\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, `'a\'b\\c\n\0'`, got)
}
