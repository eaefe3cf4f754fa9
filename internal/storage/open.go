package storage

import (
	"fmt"
	"strings"

	logx "tvbot/pkg/logx"
)

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"":        openFile,
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open returns the store named by cfg.Driver. Blank selects JSON files.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	return open(cfg, log)
}

func ValidDriver(driver string) bool {
	_, ok := drivers[strings.ToLower(strings.TrimSpace(driver))]
	return ok
}
