package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shrek82/dbo/dialect"
	"github.com/shrek82/dbo/logger"
	"github.com/shrek82/dbo/param"
	"github.com/shrek82/dbo/pool"
	"github.com/shrek82/dbo/query"
	"github.com/shrek82/dbo/sqlstate"
)

// Options defines how a connection is opened.
type Options struct {
	// Attributes are the connection attributes, passed to the driver too.
	Attributes dialect.Options
	Logger     logger.Logger
	// Pool is required when Attributes ask for a persistent connection.
	Pool *pool.Registry[dialect.Conn]
	// PoolID scopes a persistent connection within the pool.
	PoolID  string
	Context context.Context
}

// DB is one backend connection and the entry point for statements.
// A DB and its statements are not safe for concurrent use.
type DB struct {
	driver dialect.Driver
	conn   dialect.Conn
	ctx    context.Context
	log    logger.Logger
	id     string

	pool    *pool.Registry[dialect.Conn]
	poolKey string

	// opts carries statement defaults such as the cursor kind.
	opts       dialect.Options
	errMode    dialect.ErrMode
	caseMode   dialect.Case
	nulls      dialect.Nulls
	autocommit bool
	persistent bool
	inTx       bool

	err         *sqlstate.Error
	last        *Statement
	stmts       map[*Statement]struct{}
	middlewares []Middleware
	closed      bool
}

// Open connects to dsn, which has the form "driver:source".
func Open(dsn, username, password string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	name, source, err := dialect.SplitDSN(dsn)
	if err != nil {
		return nil, err
	}
	drv, err := dialect.Lookup(name)
	if err != nil {
		return nil, err
	}

	attrs := dialect.Options{}.Merge(opts.Attributes)
	db := &DB{
		driver:     drv,
		ctx:        opts.Context,
		log:        opts.Logger,
		id:         uuid.NewString(),
		opts:       dialect.Options{},
		autocommit: attrs.Bool(dialect.AttrAutocommit, true),
		persistent: attrs.Bool(dialect.AttrPersistent, false),
	}
	if db.ctx == nil {
		db.ctx = context.Background()
	}
	if db.log == nil {
		db.log = logger.New()
	}
	db.log = db.log.WithFields(map[string]any{"conn_id": db.id, "driver": drv.Name()})

	for _, a := range []dialect.Attr{dialect.AttrErrMode, dialect.AttrCase, dialect.AttrNulls, dialect.AttrCursor, dialect.AttrEmulatePrepares} {
		if v, ok := attrs[a]; ok {
			if err := db.setGeneric(a, v); err != nil {
				return nil, err
			}
		}
	}
	if _, ok := attrs[dialect.AttrErrMode]; !ok {
		db.errMode = dialect.ErrModeException
	}

	cfg := dialect.Config{Source: source, Username: username, Password: password, Options: attrs}
	connect := func(ctx context.Context) (dialect.Conn, error) {
		if t := cfg.Timeout(); t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}
		return drv.Connect(ctx, cfg)
	}

	start := time.Now()
	if db.persistent {
		if opts.Pool == nil {
			return nil, sqlstate.New(sqlstate.InvalidAttrValue, "persistent connections need a pool registry")
		}
		db.pool = opts.Pool
		db.poolKey = pool.Key(source, username, password, opts.PoolID)
		var reused bool
		db.conn, reused, err = db.pool.Acquire(db.ctx, db.poolKey, connect)
		if reused {
			db.log.Debug("reusing persistent connection")
		}
	} else {
		db.conn, err = connect(db.ctx)
	}
	if err != nil {
		se := asState(err)
		db.log.Error("connect %s: %s", name, se)
		return nil, se
	}
	db.log.Info("connected to %s in %v", name, time.Since(start))
	return db, nil
}

// DriverName returns the name the connection's driver registered under.
func (db *DB) DriverName() string { return db.driver.Name() }

// ID returns the connection id attached to its log records.
func (db *DB) ID() string { return db.id }

// SetLogger replaces the connection's logger.
func (db *DB) SetLogger(l logger.Logger) {
	db.log = l.WithFields(map[string]any{"conn_id": db.id, "driver": db.driver.Name()})
}

// Logger returns the connection's logger.
func (db *DB) Logger() logger.Logger { return db.log }

// trace logs one backend round trip.
func (db *DB) trace(q string, start time.Time, err error, args ...any) {
	db.log.Statement(q, time.Since(start), err, args...)
}

func (db *DB) stmtOptions(extra dialect.Options) dialect.Options {
	return db.opts.Merge(extra)
}

func (db *DB) prepareDriver(q string, opts dialect.Options) (dialect.Stmt, error) {
	if db.closed {
		return nil, ErrClosed
	}
	if _, err := (query.Rewriter{Native: query.None}).Rewrite(q, nil); err != nil {
		return nil, err
	}
	start := time.Now()
	ds, err := db.conn.Prepare(db.ctx, q, opts)
	db.trace("PREPARE "+q, start, err)
	return ds, err
}

func (db *DB) prepare(q string, extra dialect.Options) (*Statement, error) {
	opts := db.stmtOptions(extra)
	ds, err := db.prepareDriver(q, opts)
	if err != nil {
		return nil, err
	}
	s := &Statement{db: db, drv: ds, query: q, opts: opts, state: statePrepared}
	if db.stmts == nil {
		db.stmts = make(map[*Statement]struct{})
	}
	db.stmts[s] = struct{}{}
	return s, nil
}

// Prepare validates q and prepares it on the backend. opts override the
// connection's statement defaults, such as AttrCursor.
func (db *DB) Prepare(q string, opts ...dialect.Options) (*Statement, error) {
	db.reset()
	var extra dialect.Options
	for _, o := range opts {
		extra = extra.Merge(o)
	}
	s, err := db.prepare(q, extra)
	if err != nil {
		return nil, db.raise(err)
	}
	db.last = s
	return s, nil
}

// Query prepares and executes q in one step.
func (db *DB) Query(q string) (*Statement, error) {
	db.reset()
	s, err := db.prepare(q, nil)
	if err != nil {
		return nil, db.raise(err)
	}
	db.last = s
	if err := s.execute(nil); err != nil {
		return nil, s.raise(err)
	}
	return s, nil
}

// Exec runs q without a statement handle and returns the affected row
// count, or -1 on failure.
func (db *DB) Exec(q string) (int64, error) {
	db.reset()
	n, err := db.exec(q)
	if err != nil {
		return -1, db.raise(err)
	}
	return n, nil
}

func (db *DB) exec(q string) (int64, error) {
	if q == "" {
		return -1, sqlstate.New(sqlstate.General, "trying to execute an empty query")
	}
	if db.closed {
		return -1, ErrClosed
	}
	start := time.Now()
	n, err := db.conn.Exec(db.ctx, q)
	db.trace(q, start, err)
	return n, err
}

// Select prepares q, executes it with args and fetches every row, passing
// through the registered middlewares.
func (db *DB) Select(q string, args ...any) (Result, error) {
	return db.SelectContext(db.ctx, q, args...)
}

// SelectContext is Select with a per-call context, which carries cache TTLs
// and trace fields for the middlewares.
func (db *DB) SelectContext(ctx context.Context, q string, args ...any) (Result, error) {
	db.reset()
	req := &Request{Driver: db.driver.Name(), Query: q, Args: args}
	res, err := db.chain(db.selectRows)(ctx, req)
	if err != nil {
		return nil, db.raise(err)
	}
	return res, nil
}

func (db *DB) selectRows(ctx context.Context, req *Request) (Result, error) {
	s, err := db.prepare(req.Query, nil)
	if err != nil {
		return nil, err
	}
	defer s.close()
	if len(req.Fields) > 0 {
		db.log.WithFields(req.Fields).Debug("select %s", req.Query)
	}
	if err := s.execute(req.Args); err != nil {
		return nil, err
	}
	return s.fetchAll()
}

func (db *DB) quoteFunc() query.QuoteFunc {
	if q, ok := db.conn.(dialect.Quoter); ok {
		return q.Quote
	}
	return query.DefaultQuote
}

// Quote renders v as a literal for the backend. Without driver support,
// text is wrapped in single quotes with embedded quotes doubled.
func (db *DB) Quote(v any) (string, error) {
	db.reset()
	val, err := param.Of(v)
	if err != nil {
		return "", db.raise(err)
	}
	lit, err := db.quoteFunc()(val)
	if err != nil {
		return "", db.raise(err)
	}
	return lit, nil
}

// LastInsertID returns the id generated by the last insert, optionally for
// the named sequence.
func (db *DB) LastInsertID(sequence string) (string, error) {
	db.reset()
	ider, ok := db.conn.(dialect.InsertIDer)
	if !ok {
		return "", db.raise(sqlstate.NotCapable("last_insert_id()"))
	}
	id, err := ider.LastInsertID(db.ctx, sequence)
	if err != nil {
		return "", db.raise(err)
	}
	return id, nil
}

// Ping checks that the backend session is alive.
func (db *DB) Ping() error {
	if db.closed {
		return db.raise(ErrClosed)
	}
	return db.raise(db.conn.Ping(db.ctx))
}

// Close releases the connection. Statements still open are closed first and
// report ErrClosed afterwards. A persistent connection goes back to its
// pool, rolled back if a transaction was left open.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	// An open cursor pins the backend session, so statements go first.
	for s := range db.stmts {
		if err := s.close(); err != nil {
			db.log.Warn("closing statement %q: %s", s.query, asState(err))
		}
	}
	merr := db.shutdownMiddlewares()
	if db.persistent {
		if db.inTx {
			if tx, ok := db.conn.(dialect.Transactor); ok {
				tx.Rollback(db.ctx)
			}
			db.inTx = false
		}
		db.pool.Release(db.poolKey)
		return merr
	}
	if err := db.conn.Close(); err != nil {
		return asState(err)
	}
	return merr
}
