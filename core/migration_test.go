package core

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrek82/dbo/dialect"
)

func migrationFS() fstest.MapFS {
	return fstest.MapFS{
		"001_create_posts.up.sql":   {Data: []byte("CREATE TABLE posts (id INTEGER PRIMARY KEY, title TEXT)")},
		"001_create_posts.down.sql": {Data: []byte("DROP TABLE posts")},
		"002_add_body.up.sql":       {Data: []byte("ALTER TABLE posts ADD COLUMN body TEXT")},
		"README.md":                 {Data: []byte("ignored")},
	}
}

func TestLoadMigrations(t *testing.T) {
	migs, err := LoadMigrations(migrationFS())
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "create_posts", migs[0].Description)
	assert.Equal(t, "DROP TABLE posts", migs[0].Down)
	assert.Equal(t, 2, migs[1].Version)
	assert.Empty(t, migs[1].Down)

	_, err = LoadMigrations(fstest.MapFS{"003_x.down.sql": {Data: []byte("SELECT 1")}})
	assert.Error(t, err)
}

func TestMigrator(t *testing.T) {
	// Failures surface even when the connection is silent.
	db := openSQLite(t, dialect.Options{dialect.AttrErrMode: dialect.ErrModeSilent})
	migs, err := LoadMigrations(migrationFS())
	require.NoError(t, err)

	m := NewMigrator(db)
	n, err := m.Migrate(migs...)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, m.Applied())

	_, err = db.Exec("INSERT INTO posts (title, body) VALUES ('a', 'b')")
	require.NoError(t, err)

	// A second run finds nothing pending.
	again := NewMigrator(db)
	n, err = again.Migrate(migs...)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, again.Pending(migs))

	// The last one has no down script.
	_, err = again.RollbackLast(migs)
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2}, again.Applied())

	bad := &Migration{Version: 3, Description: "broken", Up: "CREATE TABLE"}
	_, err = again.Migrate(append(migs, bad)...)
	assert.Error(t, err)
	assert.False(t, db.InTransaction())
	assert.Equal(t, []int{1, 2}, again.Applied())
}

func TestMigratorRollback(t *testing.T) {
	db := openSQLite(t, nil)
	migs, err := LoadMigrations(migrationFS())
	require.NoError(t, err)

	m := NewMigrator(db)
	_, err = m.Migrate(migs[0])
	require.NoError(t, err)

	mig, err := m.RollbackLast(migs)
	require.NoError(t, err)
	assert.Equal(t, 1, mig.Version)
	assert.Empty(t, m.Applied())

	_, err = db.Select("SELECT * FROM posts")
	assert.Error(t, err)

	mig, err = m.RollbackLast(migs)
	assert.NoError(t, err)
	assert.Nil(t, mig)

	assert.Error(t, m.Rollback(migs[0]))
}
