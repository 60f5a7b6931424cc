package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jweiland-net/bynder2/internal/adapter/bynder"
	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/config"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/index"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/remote"
	"github.com/jweiland-net/bynder2/internal/service"
	"github.com/jweiland-net/bynder2/internal/state"
)

// app holds the stores shared by the commands
type app struct {
	cfg   *config.Config
	index *index.DB
	cache *cache.Cache
	state *state.Manager
	log   logger.Logger
}

// openApp opens the index, the cache backend and the run history
func openApp(c *config.Config) (*app, error) {
	log := logger.Get()
	a := &app{cfg: c, log: log}

	var err error
	a.index, err = index.Open(c.IndexPath(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	backend, err := cache.Open(c.CacheOptions())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	a.cache = cache.New(backend, log)

	a.state, err = state.NewManager(c.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return a, nil
}

// Close closes every store that was opened
func (a *app) Close() error {
	var errs []error
	if a.state != nil {
		errs = append(errs, a.state.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	return errors.Join(errs...)
}

func (a *app) syncService() (*service.SyncService, error) {
	return service.NewSyncService(a.cfg, service.Options{
		Index:  a.index,
		Cache:  a.cache,
		State:  a.state,
		Logger: a.log,
	})
}

// drivers builds one driver per storage that can be reached. Storages that
// still wait for an OAuth2 authorization are skipped with a warning.
func (a *app) drivers(ctx context.Context) []*bynder.Driver {
	items := cache.NewItemCache(a.cache, a.cfg.Cache.Lifetime)
	pages := cache.NewPageCache(a.cache, a.cfg.Cache.Lifetime)
	tempDir := filepath.Join(os.TempDir(), "bynder2")

	var drivers []*bynder.Driver
	for _, storage := range a.cfg.ResolveStorages(a.log) {
		client, err := remote.Open(ctx, storage, a.cfg.DataDir, remote.Options{
			HTTPClient: remote.NewHTTPClient(a.cfg.HTTP.ConnectTimeout, a.cfg.HTTP.Timeout, nil),
			Retry:      a.cfg.RetryConfig(),
			Logger:     a.log,
		})
		if err != nil {
			a.log.Warn("Could not create Bynder client because of invalid configuration", "storage", storage.UID, "error", err)
			continue
		}

		d, err := bynder.New(bynder.Config{
			StorageUID:       storage.UID,
			Source:           client,
			Items:            items,
			Pages:            pages,
			FileBrowserLimit: a.cfg.FileBrowser.NumberOfFiles,
			TempDir:          tempDir,
			Logger:           a.log,
		})
		if err != nil {
			a.log.Warn("failed to create driver", "storage", storage.UID, "error", err)
			continue
		}
		drivers = append(drivers, d)
	}
	return drivers
}

// authenticators returns the authenticators of every OAuth2 storage
func authenticators(c *config.Config, log logger.Logger) []*remote.Authenticator {
	var auths []*remote.Authenticator
	for _, storage := range c.ResolveStorages(log) {
		if storage.Token.Kind != domain.TokenOAuth {
			continue
		}
		a, err := remote.NewAuthenticator(storage, c.DataDir)
		if err != nil {
			log.Warn("failed to create authenticator", "storage", storage.UID, "error", err)
			continue
		}
		auths = append(auths, a)
	}
	return auths
}

// oauthStorage resolves uid and requires OAuth2 credentials
func oauthStorage(c *config.Config, uid int) (*remote.Authenticator, error) {
	storage, err := c.GetStorage(uid)
	if err != nil {
		return nil, err
	}
	if storage.Token.Kind != domain.TokenOAuth {
		return nil, fmt.Errorf("storage %d uses a permanent token, no authorization needed", uid)
	}
	return remote.NewAuthenticator(storage, c.DataDir)
}

func cmdLogger(name string) logger.Logger {
	return logger.With("command", name)
}

// storageUIDs returns only when it is set, otherwise every configured uid
func storageUIDs(c *config.Config, only int) []int {
	if only != 0 {
		return []int{only}
	}
	uids := make([]int, 0, len(c.Storages))
	for _, s := range c.Storages {
		uids = append(uids, s.UID)
	}
	return uids
}
