package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jweiland-net/bynder2/internal/adapter"
	"github.com/jweiland-net/bynder2/internal/adapter/bynder"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/metrics"
)

// storageView is one entry of the storage listing
type storageView struct {
	UID    int                `json:"uid"`
	Root   adapter.FolderInfo `json:"root"`
	Files  int                `json:"files"`
	Empty  bool               `json:"empty"`
	Online bool               `json:"online"`
}

// fileList is one page of a folder listing
type fileList struct {
	Folder string             `json:"folder"`
	Start  int                `json:"start"`
	Count  int                `json:"count"`
	Total  int                `json:"total"`
	Files  []adapter.FileInfo `json:"files"`
}

// driver resolves the storage of the request and binds a fresh request
// scope to it.
func (g *Gateway) driver(c echo.Context) (*bynder.Driver, error) {
	uid, err := strconv.Atoi(c.Param("uid"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid storage uid")
	}
	d, ok := g.drivers[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrStorageNotFound, uid)
	}

	mode := bynder.ModeBrowse
	if c.QueryParam("mode") == bynder.ModeFileBrowser.String() {
		mode = bynder.ModeFileBrowser
	}
	return d.Scoped(bynder.NewRequestScope(mode)), nil
}

func paramID(c echo.Context) (string, error) {
	v, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid identifier")
	}
	return v, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return n, nil
}

func queryList(c echo.Context, name string) []string {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (g *Gateway) hdlrStorages(c echo.Context) error {
	ctx := c.Request().Context()
	views := make([]storageView, 0, len(g.drivers))
	for _, uid := range g.storageUIDs() {
		d := g.drivers[uid].Scoped(bynder.NewRequestScope(bynder.ModeBrowse))
		view := storageView{UID: uid, Root: d.FolderInfo(adapter.RootFolder)}
		n, err := d.CountFiles(ctx, adapter.RootFolder)
		if err == nil {
			view.Files = n
			view.Empty = n == 0
			view.Online = true
		} else {
			g.log.Warn("storage unreachable", "storage", uid, "error", err)
		}
		views = append(views, view)
	}
	return c.JSON(http.StatusOK, views)
}

func (g *Gateway) hdlrRootFolder(c echo.Context) error {
	d, err := g.driver(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	empty, err := d.IsFolderEmpty(ctx, adapter.RootFolder)
	if err != nil {
		return fmt.Errorf("root folder: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"folder":      d.FolderInfo(adapter.RootFolder),
		"empty":       empty,
		"permissions": d.Permissions(adapter.RootFolder),
	})
}

func (g *Gateway) hdlrFiles(c echo.Context) error {
	d, err := g.driver(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	folder := c.QueryParam("folder")
	if folder == "" {
		folder = adapter.RootFolder
	}
	start, err := queryInt(c, "start", 0)
	if err != nil {
		return err
	}
	count, err := queryInt(c, "count", 0)
	if err != nil {
		return err
	}
	reverse := c.QueryParam("reverse") == "1" || c.QueryParam("reverse") == "true"
	properties := queryList(c, "properties")

	ids, err := d.ListFiles(ctx, folder, start, count, c.QueryParam("sort"), reverse)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	total, err := d.CountFiles(ctx, folder)
	if err != nil {
		return fmt.Errorf("count files: %w", err)
	}

	files := make([]adapter.FileInfo, 0, len(ids))
	for _, id := range ids {
		info, err := d.FileInfo(ctx, id, properties)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return fmt.Errorf("file info %s: %w", id, err)
		}
		files = append(files, info)
	}

	return c.JSON(http.StatusOK, fileList{
		Folder: folder,
		Start:  start,
		Count:  len(files),
		Total:  total,
		Files:  files,
	})
}

func (g *Gateway) hdlrFileInfo(c echo.Context) error {
	d, err := g.driver(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}

	info, err := d.FileInfo(c.Request().Context(), id, queryList(c, "properties"))
	if err != nil {
		return fmt.Errorf("file info: %w", err)
	}
	return c.JSON(http.StatusOK, info)
}

func (g *Gateway) hdlrThumbnail(c echo.Context) error {
	d, err := g.driver(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	width, err := queryInt(c, "width", 0)
	if err != nil {
		return err
	}
	crop := c.QueryParam("crop") != ""

	target := d.ProcessingURL(c.Request().Context(), id, adapter.ProcessingConfig{Width: width, Crop: crop})
	if target == "" || target == bynder.UnavailableImage {
		return echo.NewHTTPError(http.StatusNotFound, "no thumbnail for this rendition")
	}
	return c.Redirect(http.StatusFound, target)
}

func (g *Gateway) hdlrDownload(c echo.Context) error {
	d, err := g.driver(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}

	target := d.PublicURL(c.Request().Context(), id)
	if target == "" {
		return fmt.Errorf("%w: no download location for %s", domain.ErrNotFound, id)
	}
	return c.Redirect(http.StatusFound, target)
}

// hdlrAuth starts the OAuth2 flow of a storage
func (g *Gateway) hdlrAuth(c echo.Context) error {
	uid, err := strconv.Atoi(c.Param("uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid storage uid")
	}
	auth, ok := g.auths[uid]
	if !ok {
		return fmt.Errorf("%w: no OAuth2 configuration for storage %d", domain.ErrStorageNotFound, uid)
	}

	authURL, state, err := auth.AuthCodeURL()
	if err != nil {
		return fmt.Errorf("auth url: %w", err)
	}
	g.rememberState(state, uid)
	return c.Redirect(http.StatusFound, authURL)
}

// hdlrCallback exchanges the authorization code returned by Bynder
func (g *Gateway) hdlrCallback(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code are required")
	}

	uid, ok := g.takeState(state)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown or expired state")
	}

	if _, err := g.auths[uid].Exchange(c.Request().Context(), code); err != nil {
		g.log.Error("OAuth2 code exchange failed", "storage", uid, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "code exchange failed")
	}

	g.log.Info("OAuth2 token stored", "storage", uid)
	return c.JSON(http.StatusOK, map[string]any{"storage": uid, "status": "authorized"})
}

// hdlrSync starts a synchronization of one storage in the background
func (g *Gateway) hdlrSync(c echo.Context) error {
	if g.runner == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "synchronization is not enabled")
	}
	uid, err := strconv.Atoi(c.Param("uid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid storage uid")
	}
	if _, ok := g.drivers[uid]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrStorageNotFound, uid)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.runner.RunSync(g.ctx, uid); err != nil {
			g.log.Error("Triggered sync failed", "storage", uid, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]any{"storage": uid, "status": "started"})
}

// errorHandler maps domain errors to statuses
func (g *Gateway) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		message = fmt.Sprint(he.Message)
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNotFolder),
		errors.Is(err, domain.ErrStorageNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, domain.ErrUnknownProperty):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, domain.ErrReadOnly):
		status = http.StatusMethodNotAllowed
		message = err.Error()
	case errors.Is(err, domain.ErrRemoteUnavailable), errors.Is(err, domain.ErrRateLimited):
		status = http.StatusBadGateway
		message = err.Error()
	default:
		g.log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(status)
		return
	}
	c.JSON(status, map[string]string{"error": message})
}

// requestLogger logs and counts every request
func (g *Gateway) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request().Method, path, status)
		g.log.Debug("request",
			"method", c.Request().Method,
			"uri", c.Request().RequestURI,
			"status", status,
			"duration", time.Since(start),
		)
		return nil
	}
}
