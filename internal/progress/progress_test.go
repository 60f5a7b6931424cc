package progress

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jweiland-net/bynder2/internal/domain"
)

func TestCallbackReporter_Sequence(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []Update
	)
	reporter := NewCallbackReporter(func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	reporter.Start(7, 3)
	reporter.File("a", domain.ActionCreated)
	reporter.File("b", domain.ActionUpdated)
	reporter.Error("c", errors.New("boom"))
	reporter.Done(domain.SyncStats{StorageUID: 7, Created: 1, Updated: 1, Failed: 1})

	mu.Lock()
	defer mu.Unlock()

	if len(updates) != 5 {
		t.Fatalf("expected 5 updates, got %d", len(updates))
	}

	wantTypes := []UpdateType{UpdateStart, UpdateFile, UpdateFile, UpdateError, UpdateDone}
	for i, want := range wantTypes {
		if updates[i].Type != want {
			t.Errorf("update %d: type %v, want %v", i, updates[i].Type, want)
		}
		if updates[i].StorageUID != 7 {
			t.Errorf("update %d: storage %d, want 7", i, updates[i].StorageUID)
		}
	}

	if updates[2].FilesCompleted != 2 || updates[2].FilesTotal != 3 {
		t.Errorf("expected 2/3 completed, got %d/%d", updates[2].FilesCompleted, updates[2].FilesTotal)
	}
	if updates[2].Action != domain.ActionUpdated || updates[2].Identifier != "b" {
		t.Errorf("unexpected file update: %+v", updates[2])
	}
	if updates[3].Error == nil {
		t.Error("expected error in error update")
	}
	if updates[4].Stats.Synchronized() != 2 {
		t.Errorf("expected 2 synchronized, got %d", updates[4].Stats.Synchronized())
	}
}

func TestCallbackReporter_StartResetsCounts(t *testing.T) {
	var last Update
	reporter := NewCallbackReporter(func(u Update) { last = u })

	reporter.Start(1, 10)
	reporter.File("a", domain.ActionCreated)
	reporter.Start(2, 5)
	reporter.File("b", domain.ActionCreated)

	if last.FilesCompleted != 1 || last.StorageUID != 2 {
		t.Errorf("counts must reset per storage: %+v", last)
	}
}

func TestCallbackReporter_NilCallback(t *testing.T) {
	reporter := NewCallbackReporter(nil)
	reporter.Start(1, 1)
	reporter.File("a", domain.ActionCreated)
	reporter.Error("a", errors.New("x"))
	reporter.Done(domain.SyncStats{})
}

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewLineReporter(&buf)

	reporter.Start(3, -1)
	reporter.File("00000000-0000-0000-0000-000000000001", domain.ActionCreated)
	reporter.File("short", domain.ActionDeleted)
	reporter.Error("broken", errors.New("boom"))
	reporter.Done(domain.SyncStats{StorageUID: 3, Created: 1, Updated: 4, Deleted: 1})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"Start synchronizing files of storage with UID: 3",
		"00000000-0000-0000-0000-000000000001    Created",
		"short                                  Deleted",
		"broken                                 Error. See logs.",
		"We have synchronized 5 and deleted 1 files.",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLineReporter_Truncated(t *testing.T) {
	var buf bytes.Buffer
	NewLineReporter(&buf).Done(domain.SyncStats{Created: 2, Truncated: true})

	out := buf.String()
	if !strings.Contains(out, "no files were deleted") {
		t.Errorf("truncated run should say so: %q", out)
	}
	if !strings.Contains(out, "We have synchronized 2 and deleted 0 files.") {
		t.Errorf("missing summary: %q", out)
	}
}

func TestFormatLine(t *testing.T) {
	got := FormatLine("abc", "Updated")
	if len(got) != 35+4+len("Updated") {
		t.Errorf("unexpected width %d: %q", len(got), got)
	}

	long := strings.Repeat("x", 40)
	if got := FormatLine(long, "Created"); got != long+"    Created" {
		t.Errorf("long identifiers are not truncated: %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{200 * time.Millisecond, "< 1 sec"},
		{5 * time.Second, "5 secs"},
		{3 * time.Minute, "3 mins"},
		{2 * time.Hour, "2 hrs"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestNullReporter(t *testing.T) {
	var r Reporter = NullReporter{}
	r.Start(1, 1)
	r.File("a", domain.ActionCreated)
	r.Error("a", nil)
	r.Done(domain.SyncStats{})
}
