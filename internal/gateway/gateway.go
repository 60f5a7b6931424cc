// Package gateway serves the virtual filesystem of the configured storages
// over HTTP: listings, file info, thumbnail and download redirects, the
// OAuth2 callback and the metrics endpoint.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jweiland-net/bynder2/internal/adapter/bynder"
	"github.com/jweiland-net/bynder2/internal/logger"
	"github.com/jweiland-net/bynder2/internal/metrics"
	"github.com/jweiland-net/bynder2/internal/remote"
	"github.com/jweiland-net/bynder2/internal/scheduler"
)

// stateTTL bounds the time between "auth" and "callback"
const stateTTL = 10 * time.Minute

// Gateway is the HTTP surface of bynder2
type Gateway struct {
	drivers map[int]*bynder.Driver
	auths   map[int]*remote.Authenticator
	runner  scheduler.SyncRunner
	echo    *echo.Echo
	address string
	log     logger.Logger

	mu      sync.Mutex
	pending map[string]pendingAuth

	// background syncs started by the trigger route
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pendingAuth struct {
	storageUID int
	expires    time.Time
}

// Config carries the collaborators of a Gateway
type Config struct {
	Drivers []*bynder.Driver
	// Authenticators of OAuth2 storages, used by the auth routes
	Authenticators []*remote.Authenticator
	// Runner backs POST /storages/:uid/sync. Optional.
	Runner  scheduler.SyncRunner
	Address string
	Logger  logger.Logger
}

// New creates the gateway and registers its routes
func New(c Config) *Gateway {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		drivers: make(map[int]*bynder.Driver, len(c.Drivers)),
		auths:   make(map[int]*remote.Authenticator, len(c.Authenticators)),
		runner:  c.Runner,
		echo:    e,
		address: c.Address,
		log:     logger.OrNull(c.Logger).With("component", "gateway"),
		pending: make(map[string]pendingAuth),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, d := range c.Drivers {
		g.drivers[d.StorageUID()] = d
	}
	for _, a := range c.Authenticators {
		g.auths[a.Storage().UID] = a
	}

	e.HTTPErrorHandler = g.errorHandler
	e.Use(
		middleware.Recover(),
		g.requestLogger,
	)

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/callback", g.hdlrCallback)

	s := e.Group("/storages")
	s.GET("", g.hdlrStorages)
	s.GET("/:uid", g.hdlrRootFolder)
	s.GET("/:uid/files", g.hdlrFiles)
	s.GET("/:uid/files/:id", g.hdlrFileInfo)
	s.GET("/:uid/files/:id/thumbnail", g.hdlrThumbnail)
	s.GET("/:uid/files/:id/download", g.hdlrDownload)
	s.GET("/:uid/auth", g.hdlrAuth)
	s.POST("/:uid/sync", g.hdlrSync)

	return g
}

// Handler exposes the router, e.g. for httptest
func (g *Gateway) Handler() http.Handler {
	return g.echo
}

// Run serves until Shutdown is called
func (g *Gateway) Run() error {
	g.log.Info("Gateway listening", "address", g.address)
	if err := g.echo.Start(g.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels triggered syncs and waits for
// them to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.echo.Shutdown(ctx)
	g.cancel()
	g.wg.Wait()
	return err
}

func (g *Gateway) storageUIDs() []int {
	uids := make([]int, 0, len(g.drivers))
	for uid := range g.drivers {
		uids = append(uids, uid)
	}
	sort.Ints(uids)
	return uids
}

// rememberState records an OAuth state for the callback
func (g *Gateway) rememberState(state string, storageUID int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for s, p := range g.pending {
		if now.After(p.expires) {
			delete(g.pending, s)
		}
	}
	g.pending[state] = pendingAuth{storageUID: storageUID, expires: now.Add(stateTTL)}
}

// takeState consumes an OAuth state. Every state is valid once.
func (g *Gateway) takeState(state string) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[state]
	if !ok {
		return 0, false
	}
	delete(g.pending, state)
	if time.Now().After(p.expires) {
		return 0, false
	}
	return p.storageUID, true
}
