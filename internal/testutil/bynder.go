package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// BynderServer is an in-process fake of the media API.
type BynderServer struct {
	*httptest.Server

	mu        sync.Mutex
	assets    []map[string]any
	listCalls []string
	infoCalls int
	dlCalls   int
	failPage  int
	authz     string
}

// NewBynderServer starts a fake serving assets in the given order. The
// server is closed when the test ends.
func NewBynderServer(t *testing.T, assets []map[string]any) *BynderServer {
	t.Helper()

	s := &BynderServer{assets: assets}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/media/", s.handleMedia)
	mux.HandleFunc("/v6/authentication/oauth2/token", s.handleToken)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// MakeAssets returns n assets with ids "asset-0001" and up.
func MakeAssets(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = MakeAsset(fmt.Sprintf("asset-%04d", i+1))
	}
	return out
}

// MakeAsset returns a complete remote asset object.
func MakeAsset(id string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         "Photo " + id,
		"extension":    []any{"JPG"},
		"fileSize":     1024,
		"dateCreated":  "2023-06-01T12:30:00Z",
		"dateModified": "2023-06-02T08:00:00Z",
		"width":        1920,
		"height":       1080,
		"description":  "Description of " + id,
		"copyright":    "ACME",
		"tags":         []any{"summer", "beach"},
		"thumbnails": map[string]any{
			"mini":     "https://cdn.example.com/" + id + "/mini.jpg",
			"thul":     "https://cdn.example.com/" + id + "/thul.jpg",
			"webimage": "https://cdn.example.com/" + id + "/webimage.jpg",
		},
	}
}

// SetAssets replaces the library content.
func (s *BynderServer) SetAssets(assets []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = assets
}

// FailPage makes the given 1-based list page answer 500. 0 disables it.
func (s *BynderServer) FailPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPage = page
}

// ListCalls returns the raw queries of every list request.
func (s *BynderServer) ListCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listCalls...)
}

// InfoCalls returns the number of single-asset requests.
func (s *BynderServer) InfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoCalls
}

// DownloadCalls returns the number of download location requests.
func (s *BynderServer) DownloadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dlCalls
}

// LastAuthorization returns the Authorization header of the last request.
func (s *BynderServer) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authz
}

func (s *BynderServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authz = r.Header.Get("Authorization")

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v4/media/"), "/")
	switch {
	case rest == "":
		s.list(w, r)
	case strings.HasSuffix(rest, "/download"):
		s.dlCalls++
		id := strings.TrimSuffix(rest, "/download")
		if s.find(id) == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"s3_file": "https://cdn.example.com/" + id + "/original"})
	default:
		s.infoCalls++
		asset := s.find(rest)
		if asset == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, asset)
	}
}

func (s *BynderServer) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("total") == "1" {
		writeJSON(w, map[string]any{"total": map[string]any{"count": len(s.assets)}})
		return
	}

	s.listCalls = append(s.listCalls, r.URL.RawQuery)
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 || limit < 1 {
		http.Error(w, "bad paging", http.StatusBadRequest)
		return
	}
	if page == s.failPage {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	from := (page - 1) * limit
	to := min(from+limit, len(s.assets))
	if from >= len(s.assets) {
		writeJSON(w, []any{})
		return
	}
	writeJSON(w, s.assets[from:to])
}

func (s *BynderServer) find(id string) map[string]any {
	for _, a := range s.assets {
		if a["id"] == id {
			return a
		}
	}
	return nil
}

func (s *BynderServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	case "refresh_token":
		writeJSON(w, map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	default:
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
