// Package dialect defines the contract a database backend implements to plug
// into the dbo core, plus the bundled sqlite, pgsql and mysql backends.
package dialect

import (
	"sort"
	"sync"

	"github.com/shrek82/dbo/sqlstate"
)

var (
	mu      sync.RWMutex
	drivers = make(map[string]Driver)
)

// Register makes a driver available under name and any aliases.
func Register(d Driver, aliases ...string) {
	mu.Lock()
	defer mu.Unlock()
	drivers[d.Name()] = d
	for _, a := range aliases {
		drivers[a] = d
	}
}

// Get retrieves a registered driver by name.
func Get(name string) (Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := drivers[name]
	return d, ok
}

// Lookup is Get returning IM002 for an unknown name.
func Lookup(name string) (Driver, error) {
	d, ok := Get(name)
	if !ok {
		return nil, sqlstate.Newf(sqlstate.DriverNotFound, "could not find driver %q", name)
	}
	return d, nil
}

// Drivers lists the registered names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(NewSQLite(), "sqlite3")
	Register(NewPostgres(), "postgres", "postgresql")
	Register(NewMySQL())
}
