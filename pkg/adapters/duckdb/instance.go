package duckdb

import (
	"database/sql"
	"database/sql/driver"
	"sync"

	"github.com/marcboeker/go-duckdb"
)

// instance is a DuckDB database shared by every connection to one path.
type instance struct {
	connector *duckdb.Connector
	refs      int
}

var (
	instancesMu sync.Mutex
	instances   = make(map[string]*instance)
)

// connectorRef hides the connector's Close method from database/sql so that
// closing one connection does not shut down the shared database.
type connectorRef struct {
	driver.Connector
}

// acquire returns a *sql.DB bound to the shared instance for path and a
// release func that drops the reference once the *sql.DB is closed.
func acquire(path string) (*sql.DB, func() error, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	inst, ok := instances[path]
	if !ok {
		connector, err := duckdb.NewConnector(path, nil)
		if err != nil {
			return nil, nil, err
		}
		inst = &instance{connector: connector}
		instances[path] = inst
	}
	inst.refs++

	db := sql.OpenDB(connectorRef{Connector: inst.connector})
	return db, func() error { return releaseInstance(path) }, nil
}

func releaseInstance(path string) error {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	inst, ok := instances[path]
	if !ok {
		return nil
	}
	inst.refs--
	if inst.refs > 0 {
		return nil
	}
	delete(instances, path)
	return inst.connector.Close()
}
