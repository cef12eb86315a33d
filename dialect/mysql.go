package dialect

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// MySQL is the server backend over go-sql-driver/mysql. The DSN body holds
// host, port, dbname, unix_socket and charset pairs.
type MySQL struct {
	Open Opener
}

// NewMySQL returns the mysql driver.
func NewMySQL() *MySQL {
	return &MySQL{}
}

func (d *MySQL) Name() string { return "mysql" }

func (d *MySQL) Connect(ctx context.Context, cfg Config) (Conn, error) {
	dsn, err := mysqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	sess, err := openSession(ctx, d.Open, d.Name(), "mysql", dsn, cfg.Options)
	if err != nil {
		return nil, err
	}
	sess.beginSQL = "START TRANSACTION"
	c := &mysqlConn{session: sess, autocommit: true}
	if v, ok := cfg.Options[AttrAutocommit]; ok {
		if err := c.SetAttribute(ctx, AttrAutocommit, v); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return c, nil
}

func mysqlDSN(cfg Config) (string, error) {
	pairs := ParsePairs(cfg.Source)
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.DBName = pairs["dbname"]
	if sock := pairs["unix_socket"]; sock != "" {
		mc.Net = "unix"
		mc.Addr = sock
	} else {
		host := pairs["host"]
		if host == "" {
			host = "localhost"
		}
		port := pairs["port"]
		if port == "" {
			port = "3306"
		}
		if _, err := strconv.Atoi(port); err != nil {
			return "", sqlstate.Newf(sqlstate.UnableToConnect, "invalid port %q", port)
		}
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, port)
	}
	if cs := pairs["charset"]; cs != "" {
		mc.Params = map[string]string{"charset": cs}
	}
	if v, ok := pairs["multi_statements"]; ok {
		mc.MultiStatements = v == "1" || strings.EqualFold(v, "true")
	}
	if t := cfg.Timeout(); t > 0 {
		mc.Timeout = t
	}
	return mc.FormatDSN(), nil
}

type mysqlConn struct {
	*session
	autocommit bool
}

// Prepare rewrites :name markers to "?" since the server only understands
// positional ones.
func (c *mysqlConn) Prepare(ctx context.Context, q string, opts Options) (Stmt, error) {
	opts = c.opts.Merge(opts)
	s := &sqlStmt{
		sess:    c.session,
		sql:     q,
		support: query.Positional,
		scroll:  Cursor(opts.Int(AttrCursor, int(CursorForwardOnly))) == CursorScrollable,
	}
	if opts.Bool(AttrEmulatePrepares, false) {
		s.support = query.None
		return s, nil
	}
	res, err := query.Rewriter{Native: query.Positional}.Rewrite(q, nil)
	if err != nil {
		return nil, err
	}
	if res.Outcome == query.Rewritten {
		s.rewrite = res
		s.sql = res.Query
	}
	stmt, err := c.conn.PrepareContext(ctx, s.sql)
	if err != nil {
		return nil, Wrap(err)
	}
	s.stmt = stmt
	return s, nil
}

// Quote escapes the way the server's string literal syntax requires.
func (c *mysqlConn) Quote(v param.Value) (string, error) {
	var b strings.Builder
	b.Grow(len(v.Text) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(v.Text); i++ {
		switch ch := v.Text[i]; ch {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1a:
			b.WriteString(`\Z`)
		case '\'', '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('\'')
	return b.String(), nil
}

func (c *mysqlConn) LastInsertID(ctx context.Context, _ string) (string, error) {
	if c.last != nil {
		if id, err := c.last.LastInsertId(); err == nil {
			return strconv.FormatInt(id, 10), nil
		}
	}
	return c.queryValue(ctx, "SELECT LAST_INSERT_ID()")
}

func (c *mysqlConn) GetAttribute(ctx context.Context, a Attr) (any, error) {
	switch a {
	case AttrAutocommit:
		return c.autocommit, nil
	case AttrClientVersion:
		return "go-sql-driver/mysql", nil
	}
	return c.attribute(ctx, a, "SELECT VERSION()")
}

func (c *mysqlConn) SetAttribute(ctx context.Context, a Attr, v any) error {
	if a != AttrAutocommit {
		return sqlstate.NotCapable("attribute " + a.String())
	}
	on := Options{a: v}.Bool(a, true)
	flag := 0
	if on {
		flag = 1
	}
	if _, err := c.conn.ExecContext(ctx, fmt.Sprintf("SET autocommit = %d", flag)); err != nil {
		return Wrap(err)
	}
	c.autocommit = on
	return nil
}
