package bynder

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jweiland-net/bynder2/internal/adapter"
	"github.com/jweiland-net/bynder2/internal/cache"
	"github.com/jweiland-net/bynder2/internal/domain"
)

// fakeSource serves assets from memory and counts remote calls.
type fakeSource struct {
	mu        sync.Mutex
	assets    []domain.AssetRecord
	download  string
	listCalls []listCall
	getCalls  int
	counts    int
}

type listCall struct {
	start, count int
	order        domain.Ordering
}

func (f *fakeSource) ListAssets(_ context.Context, start, count int, order domain.Ordering) (iter.Seq[domain.AssetRecord], func() error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, listCall{start, count, order})
	assets := f.assets
	f.mu.Unlock()

	seq := func(yield func(domain.AssetRecord) bool) {
		end := len(assets)
		if count > 0 {
			end = min(start+count, len(assets))
		}
		for i := start; i < end; i++ {
			if !yield(assets[i]) {
				return
			}
		}
	}
	return seq, func() error { return nil }
}

func (f *fakeSource) GetAsset(_ context.Context, id string) (domain.AssetRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	for _, a := range f.assets {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.AssetRecord{}, domain.ErrNotFound
}

func (f *fakeSource) CountAssets(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	return len(f.assets), nil
}

func (f *fakeSource) DownloadLocation(_ context.Context, id string) string {
	for _, a := range f.assets {
		if a.ID == id {
			return f.download
		}
	}
	return ""
}

func makeAsset(id string) domain.AssetRecord {
	return domain.AssetRecord{
		ID:           id,
		Name:         "Photo " + id,
		Extension:    []string{"PNG"},
		FileSize:     10,
		DateModified: "2024-01-01T00:00:00Z",
		Thumbnails: map[string]string{
			domain.ThumbMini:     "https://cdn/" + id + "/mini",
			domain.ThumbThul:     "https://cdn/" + id + "/thul",
			domain.ThumbWebImage: "https://cdn/" + id + "/webimage",
		},
	}
}

func newTestDriver(t *testing.T, src *fakeSource) *Driver {
	t.Helper()
	backend, err := cache.NewMemoryBackend()
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(backend, nil)
	d, err := New(Config{
		StorageUID: 5,
		Source:     src,
		Items:      cache.NewItemCache(c, 0),
		Pages:      cache.NewPageCache(c, 0),
		TempDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func TestDriver_RootFolder(t *testing.T) {
	src := &fakeSource{}
	d := newTestDriver(t, src)
	ctx := context.Background()

	if !d.FileExists(ctx, "/") {
		t.Error("root must always exist")
	}
	if !d.FolderExists("/") || d.FolderExists("/sub") {
		t.Error("only the root is a folder")
	}
	if empty, err := d.IsFolderEmpty(ctx, "/"); err != nil || !empty {
		t.Errorf("empty library: IsFolderEmpty = %v, %v", empty, err)
	}

	info, err := d.FileInfo(ctx, "/", nil)
	if err != nil {
		t.Fatalf("FileInfo(/) failed: %v", err)
	}
	if info["name"] != "/" || info["size"] != "0" || info["mimetype"] != "" || info["storage"] != "5" {
		t.Errorf("unexpected root info: %v", info)
	}
	if info["identifier_hash"] != info["folder_hash"] {
		t.Error("root identifier hash must equal the folder hash")
	}

	fi := d.FolderInfo("/")
	if fi.Name != RootFolderName || fi.Identifier != "/" || fi.Storage != 5 {
		t.Errorf("unexpected folder info: %+v", fi)
	}

	src.assets = []domain.AssetRecord{makeAsset("a")}
	if empty, _ := d.IsFolderEmpty(ctx, "/"); empty {
		t.Error("library with assets is not empty")
	}
}

func TestDriver_FileExists(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a"), makeAsset("b")}}
	d := newTestDriver(t, src)
	ctx := context.Background()

	if !d.FileExists(ctx, "a") {
		t.Fatal("expected a to exist")
	}
	if src.getCalls != 1 {
		t.Errorf("expected one remote lookup, got %d", src.getCalls)
	}

	// The first lookup cached the asset.
	if !d.FileExists(ctx, "/a") {
		t.Fatal("expected /a to exist")
	}
	if src.getCalls != 1 {
		t.Errorf("cached asset should not be fetched again, got %d calls", src.getCalls)
	}

	if d.FileExists(ctx, "missing") {
		t.Error("unknown asset must not exist")
	}
	if d.FileExists(ctx, "") {
		t.Error("empty identifier must not exist")
	}
}

func TestDriver_RequestScopeMemoizes(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}}
	d := newTestDriver(t, src)
	ctx := context.Background()
	scoped := d.Scoped(NewRequestScope(ModeBrowse))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scoped.FileExists(ctx, "missing")
		}()
	}
	wg.Wait()
	scoped.FileExists(ctx, "missing")

	if src.getCalls > 1 {
		t.Errorf("scope should collapse lookups, got %d remote calls", src.getCalls)
	}

	for i := 0; i < 3; i++ {
		if _, err := scoped.CountFiles(ctx, "/"); err != nil {
			t.Fatal(err)
		}
	}
	if src.counts != 1 {
		t.Errorf("scope should memoize the file count, got %d calls", src.counts)
	}

	// A fresh scope sees fresh state.
	d.Scoped(NewRequestScope(ModeBrowse)).CountFiles(ctx, "/")
	if src.counts != 2 {
		t.Errorf("new scope should count again, got %d calls", src.counts)
	}
}

func TestDriver_FileInfo(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}}
	d := newTestDriver(t, src)
	ctx := context.Background()

	info, err := d.FileInfo(ctx, "a", nil)
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if len(info) != len(DefaultProperties) {
		t.Errorf("expected the default property set, got %v", info)
	}
	if info["name"] != "Photo_a.png" || info["mimetype"] != "image/png" || info["storage"] != "5" {
		t.Errorf("unexpected info: %v", info)
	}
	if info["mtime"] != "1704067200" {
		t.Errorf("mtime = %s", info["mtime"])
	}

	info, err = d.FileInfo(ctx, "a", []string{"width", "keywords"})
	if err != nil {
		t.Fatal(err)
	}
	if len(info) != 2 || info["width"] != "0" || info["keywords"] != "" {
		t.Errorf("unexpected info: %v", info)
	}

	if _, err := d.FileInfo(ctx, "a", []string{"bogus"}); !errors.Is(err, domain.ErrUnknownProperty) {
		t.Errorf("expected ErrUnknownProperty, got %v", err)
	}
	if _, err := d.FileInfo(ctx, "missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDriver_ListFiles_UsesPageCache(t *testing.T) {
	var assets []domain.AssetRecord
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assets = append(assets, makeAsset(id))
	}
	src := &fakeSource{assets: assets}
	d := newTestDriver(t, src)
	ctx := context.Background()

	ids, err := d.ListFiles(ctx, "/", 0, 2, "file", true)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v", ids)
	}
	if len(src.listCalls) != 1 || src.listCalls[0].order.String() != "name desc" {
		t.Fatalf("unexpected list calls: %+v", src.listCalls)
	}

	again, err := d.ListFiles(ctx, "/", 0, 2, "file", true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(again, ",") != "a,b" || len(src.listCalls) != 1 {
		t.Errorf("second listing should be served from the page cache, calls=%d", len(src.listCalls))
	}

	// Items of the page were cached individually.
	if _, err := d.FileInfo(ctx, "b", []string{"size"}); err != nil {
		t.Fatal(err)
	}
	if src.getCalls != 0 {
		t.Errorf("listed assets should not be fetched again, got %d", src.getCalls)
	}

	if _, err := d.ListFiles(ctx, "/", 0, 2, "size", true); err != nil {
		t.Fatal(err)
	}
	if len(src.listCalls) != 2 || src.listCalls[1].order.String() != "dateModified desc" {
		t.Errorf("other ordering should miss the page cache: %+v", src.listCalls)
	}

	if _, err := d.ListFiles(ctx, "/nope", 0, 2, "", false); !errors.Is(err, domain.ErrNotFolder) {
		t.Errorf("expected ErrNotFolder, got %v", err)
	}
}

func TestDriver_ListFiles_FileBrowserCap(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}}
	d := newTestDriver(t, src)
	ctx := context.Background()

	if _, err := d.Scoped(NewRequestScope(ModeFileBrowser)).ListFiles(ctx, "/", 0, 0, "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ListFiles(ctx, "/", 0, 0, "", false); err != nil {
		t.Fatal(err)
	}

	if len(src.listCalls) != 2 {
		t.Fatalf("expected 2 list calls, got %d", len(src.listCalls))
	}
	if src.listCalls[0].count != DefaultFileBrowserLimit {
		t.Errorf("file browser listing count = %d, want %d", src.listCalls[0].count, DefaultFileBrowserLimit)
	}
	if src.listCalls[1].count != 0 {
		t.Errorf("browse listing should stay unbounded, got %d", src.listCalls[1].count)
	}
}

func TestNew_ClampsFileBrowserLimit(t *testing.T) {
	backend, _ := cache.NewMemoryBackend()
	c := cache.New(backend, nil)
	for in, want := range map[int]int{0: 100, -4: 1, 50: 50, 5000: 1000} {
		d, err := New(Config{Source: &fakeSource{}, Items: cache.NewItemCache(c, 0), Pages: cache.NewPageCache(c, 0), FileBrowserLimit: in})
		if err != nil {
			t.Fatal(err)
		}
		if d.browserLimit != want {
			t.Errorf("limit(%d) = %d, want %d", in, d.browserLimit, want)
		}
	}

	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a source")
	}
}

func TestDriver_FolderOperationsAreNoOps(t *testing.T) {
	d := newTestDriver(t, &fakeSource{})
	ctx := context.Background()

	if id, err := d.CreateFolder(ctx, "new", "/", false); err != nil || id != "" {
		t.Errorf("CreateFolder = %q, %v", id, err)
	}
	if m, err := d.RenameFolder(ctx, "/", "x"); err != nil || len(m) != 0 {
		t.Errorf("RenameFolder = %v, %v", m, err)
	}
	if ok, err := d.DeleteFolder(ctx, "/", true); err != nil || !ok {
		t.Errorf("DeleteFolder = %v, %v", ok, err)
	}
	if m, err := d.MoveFolder(ctx, "/", "/", "x"); err != nil || len(m) != 0 {
		t.Errorf("MoveFolder = %v, %v", m, err)
	}
	if ok, err := d.CopyFolder(ctx, "/", "/", "x"); err != nil || !ok {
		t.Errorf("CopyFolder = %v, %v", ok, err)
	}
	if id, err := d.MoveFile(ctx, "abc", "/", "n"); err != nil || id != "abc" {
		t.Errorf("MoveFile = %q, %v", id, err)
	}
	if id, err := d.CopyFile(ctx, "abc", "/", "n"); err != nil || id != "abc" {
		t.Errorf("CopyFile = %q, %v", id, err)
	}
	if folders, err := d.ListFolders(ctx, "/", 0, 0, "", false); err != nil || len(folders) != 0 {
		t.Errorf("ListFolders = %v, %v", folders, err)
	}
	if d.CountFolders("/") != 0 || d.FolderExistsInFolder("x", "/") || d.FolderInFolder("x", "/") != "" {
		t.Error("the root has no subfolders")
	}
	if !d.IsWithin("/", "abc") || !d.IsWithin("", "abc") || d.IsWithin("/other", "abc") {
		t.Error("IsWithin is true for the root only")
	}
	if d.ParentFolderOf("abc") != "/" || d.RootLevelFolder() != "/" || d.DefaultFolder() != "/" {
		t.Error("every file lives in the root")
	}
}

func TestDriver_MutationsAreReadOnly(t *testing.T) {
	d := newTestDriver(t, &fakeSource{})
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["AddFile"] = d.AddFile(ctx, "/tmp/x", "/", "x", true)
	_, checks["CreateFile"] = d.CreateFile(ctx, "x", "/")
	_, checks["RenameFile"] = d.RenameFile(ctx, "x", "y")
	checks["ReplaceFile"] = d.ReplaceFile(ctx, "x", "/tmp/x")
	checks["DeleteFile"] = d.DeleteFile(ctx, "x")
	_, checks["SetFileContents"] = d.SetFileContents(ctx, "x", strings.NewReader("data"))

	for op, err := range checks {
		if !errors.Is(err, domain.ErrReadOnly) {
			t.Errorf("%s: expected ErrReadOnly, got %v", op, err)
		}
	}

	if p := d.Permissions("x"); !p.Read || p.Write {
		t.Errorf("unexpected permissions %+v", p)
	}
}

func TestDriver_Hash(t *testing.T) {
	d := newTestDriver(t, &fakeSource{})
	if got := d.Hash("/", "md5"); got != "42099b4af021e53fd8fd4e056c2568d7c2e3ffa8" {
		t.Errorf("Hash(/) = %s", got)
	}
}

func TestDriver_ProcessingURL(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}}
	d := newTestDriver(t, src)
	ctx := context.Background()

	if got := d.ProcessingURL(ctx, "a", adapter.ProcessingConfig{Width: 200}); got != "https://cdn/a/thul" {
		t.Errorf("ProcessingURL = %q", got)
	}
	if got := d.ProcessingURL(ctx, "a", adapter.ProcessingConfig{Width: 200, Crop: true}); got != "" {
		t.Errorf("crop should disable CDN thumbnails, got %q", got)
	}
	if got := d.ProcessingURL(ctx, "missing", adapter.ProcessingConfig{Width: 50}); got != UnavailableImage {
		t.Errorf("missing asset should get the unavailable image, got %q", got)
	}
}

func TestDriver_FileForLocalProcessing(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PNGDATA"))
	}))
	defer cdn.Close()

	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}, download: cdn.URL + "/a"}
	d := newTestDriver(t, src)
	ctx := context.Background()

	tmp, err := d.FileForLocalProcessing(ctx, "a", false)
	if err != nil {
		t.Fatalf("FileForLocalProcessing failed: %v", err)
	}
	if filepath.Ext(tmp) != ".png" || !strings.HasPrefix(filepath.Base(tmp), "bynder-tempfile-") {
		t.Errorf("unexpected temp path %s", tmp)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "PNGDATA" {
		t.Errorf("contents = %q", data)
	}

	if got := d.PublicURL(ctx, "a"); got != cdn.URL+"/a" {
		t.Errorf("PublicURL = %q", got)
	}

	missing, err := d.TemporaryPath(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(missing) != ".jpg" {
		t.Errorf("expected jpg fallback, got %s", missing)
	}

	if _, err := d.FileContents(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDriver_ResourceExists(t *testing.T) {
	src := &fakeSource{assets: []domain.AssetRecord{makeAsset("a")}}
	d := newTestDriver(t, src)
	ctx := context.Background()

	if _, err := d.ResourceExists(ctx, ""); !errors.Is(err, domain.ErrInvalidFileName) {
		t.Errorf("expected ErrInvalidFileName, got %v", err)
	}
	for id, want := range map[string]bool{"/": true, "a": true, "zzz": false} {
		got, err := d.ResourceExists(ctx, id)
		if err != nil || got != want {
			t.Errorf("ResourceExists(%q) = %v, %v; want %v", id, got, err, want)
		}
	}

	if id, err := d.FileInFolder("a", "/"); err != nil || id != "/a" {
		t.Errorf("FileInFolder = %q, %v", id, err)
	}
	if _, err := d.FileInFolder("../etc/passwd", "/"); !errors.Is(err, domain.ErrInvalidFileName) {
		t.Errorf("expected ErrInvalidFileName, got %v", err)
	}
	if !d.FileExistsInFolder(ctx, "a", "/") {
		t.Error("FileExistsInFolder(a) should be true")
	}
}
