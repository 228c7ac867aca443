package storage

import "fmt"

// Open constructs a Store per AGENT_WORLD_STORAGE_TYPE: "sqlite",
// "file", or "memory". dsn is the sqlite file path or file-backend base
// directory; ignored for memory.
func Open(backend, dsn string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(dsn)
	case "sqlite":
		return OpenSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want sqlite|file|memory)", backend)
	}
}
