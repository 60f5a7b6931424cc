package bynder

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Mode tells the driver which host view it is serving.
type Mode int

const (
	// ModeBrowse lists without limits
	ModeBrowse Mode = iota
	// ModeFileBrowser caps unbounded listings to the file browser limit
	ModeFileBrowser
)

func (m Mode) String() string {
	if m == ModeFileBrowser {
		return "file-browser"
	}
	return "browse"
}

// RequestScope memoizes existence checks and the file count for one host
// request. Concurrent lookups of the same key share one remote call.
type RequestScope struct {
	Mode Mode

	group singleflight.Group
	mu    sync.Mutex
	exist map[string]bool
	count *int
}

// NewRequestScope creates an empty scope.
func NewRequestScope(mode Mode) *RequestScope {
	return &RequestScope{Mode: mode, exist: make(map[string]bool)}
}

func (s *RequestScope) exists(id string, lookup func() bool) bool {
	if s == nil {
		return lookup()
	}

	s.mu.Lock()
	v, ok := s.exist[id]
	s.mu.Unlock()
	if ok {
		return v
	}

	res, _, _ := s.group.Do("exists:"+id, func() (any, error) {
		s.mu.Lock()
		v, ok := s.exist[id]
		s.mu.Unlock()
		if ok {
			return v, nil
		}
		found := lookup()
		s.mu.Lock()
		s.exist[id] = found
		s.mu.Unlock()
		return found, nil
	})
	return res.(bool)
}

func (s *RequestScope) countFiles(lookup func() (int, error)) (int, error) {
	if s == nil {
		return lookup()
	}

	s.mu.Lock()
	if s.count != nil {
		n := *s.count
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	res, err, _ := s.group.Do("count", func() (any, error) {
		s.mu.Lock()
		if s.count != nil {
			n := *s.count
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()
		n, err := lookup()
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		s.count = &n
		s.mu.Unlock()
		return n, nil
	})
	return res.(int), err
}

func (s *RequestScope) mode() Mode {
	if s == nil {
		return ModeBrowse
	}
	return s.Mode
}

// Known returns the memoized existence of id.
func (s *RequestScope) Known(id string) (exists, ok bool) {
	if s == nil {
		return false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, ok = s.exist[id]
	return exists, ok
}
