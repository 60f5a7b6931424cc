package main

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jweiland-net/bynder2/internal/config"
	"github.com/jweiland-net/bynder2/internal/domain"
	"github.com/jweiland-net/bynder2/internal/state"
)

func TestStorageUIDs(t *testing.T) {
	c := &config.Config{Storages: []config.StorageConfig{{UID: 3}, {UID: 1}}}

	if got := storageUIDs(c, 0); !reflect.DeepEqual(got, []int{3, 1}) {
		t.Errorf("storageUIDs(0) = %v", got)
	}
	if got := storageUIDs(c, 7); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("storageUIDs(7) = %v", got)
	}
}

func TestWriteHistory(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	records := []state.RunRecord{
		{StorageUID: 2, StartTime: start, EndTime: start.Add(5 * time.Second), Status: state.StatusSuccess, Created: 4},
		{StorageUID: 1, StartTime: start, EndTime: start, Status: state.StatusPartial, Error: "listing truncated"},
	}

	var buf bytes.Buffer
	if err := writeHistory(&buf, records); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "STORAGE") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "2024-03-01 10:00:00") || !strings.Contains(lines[1], "5 secs") {
		t.Errorf("row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "partial") || !strings.HasSuffix(lines[2], "listing truncated") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestExitError(t *testing.T) {
	err := error(&exitError{code: 2, err: domain.ErrSchemaPrecondition})

	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Fatalf("exit code not carried: %v", err)
	}
	if !errors.Is(err, domain.ErrSchemaPrecondition) {
		t.Error("exitError must unwrap to its cause")
	}
}

func TestCommandTree(t *testing.T) {
	want := map[string]bool{"sync": true, "serve": true, "auth": true, "cache": true, "history": true, "index": true}
	for _, c := range rootCmd.Commands() {
		delete(want, c.Name())
	}
	if len(want) != 0 {
		t.Errorf("missing commands: %v", want)
	}

	sub := map[string]bool{"flush": true, "gc": true}
	for _, c := range cacheCmd.Commands() {
		delete(sub, c.Name())
	}
	if len(sub) != 0 {
		t.Errorf("missing cache commands: %v", sub)
	}
}
