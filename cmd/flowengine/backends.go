package main

import (
	"fmt"
	"io"

	"github.com/automationservice/flowengine/internal/config"
	"github.com/automationservice/flowengine/internal/ledger"
	"github.com/automationservice/flowengine/internal/store"
)

// openStore builds the workflow/contact store selected by config. The
// returned closer is nil for backends without a connection to release.
func openStore(cfg config.StoreConfig) (store.Store, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil, nil
	case "sqlite":
		s, err := store.OpenSQLite(store.DefaultSQLiteConfig(cfg.Path))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openLedger builds the run ledger selected by config.
func openLedger(cfg config.LedgerConfig) (ledger.Ledger, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return ledger.NewMemoryLedger(), nil, nil
	case "sqlite":
		l, err := ledger.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
