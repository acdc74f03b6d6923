// Package app assembles the database, host store, remote client and sync engine
// shared by the API server and the CLI.
package app

import (
	"fmt"
	"log"

	"github.com/xelth-com/pcsyncgo/internal/config"
	"github.com/xelth-com/pcsyncgo/internal/database"
	"github.com/xelth-com/pcsyncgo/internal/host"
	"github.com/xelth-com/pcsyncgo/internal/host/memstore"
	"github.com/xelth-com/pcsyncgo/internal/host/odoo"
	"github.com/xelth-com/pcsyncgo/internal/remote"
	"github.com/xelth-com/pcsyncgo/internal/sync"
)

// App holds the wired services
type App struct {
	Config     *config.Config
	SyncConfig *config.SyncConfig
	DB         *database.DB
	Host       host.Store
	Remote     *remote.Client
	Engine     *sync.SyncEngine
}

// New connects the database, migrates the sync tables and builds the engine.
// A nil publisher disables job events.
func New(cfg *config.Config, syncCfg *config.SyncConfig, publisher sync.Publisher) (*App, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if publisher != nil {
		if err := sync.RegisterJobHooks(db.DB, publisher); err != nil {
			db.Close()
			return nil, err
		}
	}

	store, observed := newHostStore(cfg.Odoo)
	client := remote.NewFromConfig(syncCfg)
	if !client.Configured() {
		log.Println("⚠️ ProspectConnect API key or base URL missing; sync runs will fail until configured")
	}

	engine := sync.NewSyncEngine(sync.Options{
		DB:        db.DB,
		Config:    syncCfg,
		Host:      store,
		Remote:    client,
		Publisher: publisher,
	})
	if observed != nil {
		observed.SetObserver(engine.Trigger())
	}

	return &App{
		Config:     cfg,
		SyncConfig: syncCfg,
		DB:         db,
		Host:       store,
		Remote:     client,
		Engine:     engine,
	}, nil
}

// newHostStore returns the Odoo store when ODOO_URL is set. Without it an
// in-memory store is used and local changes are observed directly.
func newHostStore(cfg config.OdooConfig) (host.Store, *memstore.Store) {
	if cfg.URL != "" {
		log.Printf("🔗 Host: Odoo at %s (db %s)", cfg.URL, cfg.Database)
		return odoo.NewStore(odoo.NewClient(cfg.URL, cfg.Database, cfg.Username, cfg.Password)), nil
	}
	log.Println("⚠️ Host: ODOO_URL not set, using in-memory store")
	mem := memstore.New()
	return mem, mem
}

// Close releases the database
func (a *App) Close() error {
	return a.DB.Close()
}
