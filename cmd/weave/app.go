package main

import (
	"fmt"
	"log"
	"os"

	"github.com/yonngwoo/weave/internal/auth"
	"github.com/yonngwoo/weave/internal/bus"
	"github.com/yonngwoo/weave/internal/config"
	"github.com/yonngwoo/weave/internal/coordinator"
	"github.com/yonngwoo/weave/internal/prefs"
	"github.com/yonngwoo/weave/internal/store"
)

// app bundles the wired-up services behind one CLI invocation.
type app struct {
	cfg   *config.Config
	store *store.Store
	prefs *prefs.Prefs
	bus   *bus.Bus
	coord *coordinator.Coordinator
}

// openApp loads config and constructs the store, prefs, and coordinator.
// The coordinator's account is installed from the persisted token if one
// is present. Call close when done.
func openApp(logger *log.Logger, reporter coordinator.Reporter) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	p, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open prefs: %w", err)
	}

	b := bus.New()
	coord := coordinator.New(coordinator.Config{
		Store:    st,
		Prefs:    p,
		Provider: &auth.TokenProvider{Prefs: p},
		Bus:      b,
		Reporter: reporter,
		Interval: cfg.SyncInterval,
		Logger:   logger,
	})

	a := &app{cfg: cfg, store: st, prefs: p, bus: b, coord: coord}
	if err := a.restoreAccount(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	a.coord.Close()
	if err := a.prefs.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close prefs: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
}

// restoreAccount rebuilds the account from the persisted token. No token
// means signed out; syncs then report NotStarted(NoAccount).
func (a *app) restoreAccount() error {
	token, err := a.prefs.Token()
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}
	if token == "" {
		return nil
	}
	if a.cfg.ServerURL == "" {
		return fmt.Errorf("account token present but server_url is not configured")
	}
	a.coord.SetAccount(&auth.Account{Token: token, ServerURL: a.cfg.ServerURL})
	return nil
}

// mustOpenApp is the Run-func variant: prints the error and exits.
func mustOpenApp(logger *log.Logger) *app {
	a, err := openApp(logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}
