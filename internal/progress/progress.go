package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jweiland-net/bynder2/internal/domain"
)

// ErrorLine is printed for an identifier that could not be indexed
const ErrorLine = "Error. See logs."

// Reporter receives reconciliation progress
type Reporter interface {
	// Start begins a storage; total is the remote asset count or -1
	Start(storageUID int, total int)
	// File reports what reconciliation did with one identifier
	File(identifier string, action domain.SyncAction)
	// Error reports an identifier that failed
	Error(identifier string, err error)
	// Done reports the finished storage
	Done(stats domain.SyncStats)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	StorageUID     int
	Identifier     string
	Action         domain.SyncAction
	FilesCompleted int
	FilesTotal     int
	Error          error
	Stats          domain.SyncStats
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateFile
	UpdateError
	UpdateDone
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	storageUID     int
	filesTotal     int
	filesCompleted int
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// Start begins tracking a storage
func (r *CallbackReporter) Start(storageUID int, total int) {
	r.mu.Lock()
	r.storageUID = storageUID
	r.filesTotal = total
	r.filesCompleted = 0

	update := Update{
		Type:       UpdateStart,
		StorageUID: storageUID,
		FilesTotal: total,
	}
	callback := r.callback
	r.mu.Unlock()

	// Call callback outside lock to prevent deadlock
	if callback != nil {
		callback(update)
	}
}

// File reports one reconciled identifier
func (r *CallbackReporter) File(identifier string, action domain.SyncAction) {
	r.mu.Lock()
	r.filesCompleted++
	update := Update{
		Type:           UpdateFile,
		StorageUID:     r.storageUID,
		Identifier:     identifier,
		Action:         action,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
	}
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// Error reports a failed identifier
func (r *CallbackReporter) Error(identifier string, err error) {
	r.mu.Lock()
	update := Update{
		Type:           UpdateError,
		StorageUID:     r.storageUID,
		Identifier:     identifier,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
		Error:          err,
	}
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// Done reports the finished storage
func (r *CallbackReporter) Done(stats domain.SyncStats) {
	r.mu.Lock()
	update := Update{
		Type:           UpdateDone,
		StorageUID:     stats.StorageUID,
		FilesCompleted: r.filesCompleted,
		FilesTotal:     r.filesTotal,
		Stats:          stats,
	}
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// LineReporter prints one line per identifier and a summary per storage.
type LineReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineReporter creates a reporter writing to w
func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

func (r *LineReporter) Start(storageUID int, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "Start synchronizing files of storage with UID: %d\n", storageUID)
}

func (r *LineReporter) File(identifier string, action domain.SyncAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, FormatLine(identifier, string(action)))
}

func (r *LineReporter) Error(identifier string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, FormatLine(identifier, ErrorLine))
}

func (r *LineReporter) Done(stats domain.SyncStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stats.Truncated {
		fmt.Fprintln(r.w, "Remote listing was incomplete, no files were deleted.")
	}
	fmt.Fprintln(r.w, FormatSummary(stats))
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Start(int, int)                 {}
func (NullReporter) File(string, domain.SyncAction) {}
func (NullReporter) Error(string, error)            {}
func (NullReporter) Done(domain.SyncStats)          {}

// FormatLine renders a per-file line with the identifier padded to 35
// columns.
func FormatLine(identifier, status string) string {
	return fmt.Sprintf("%-35s    %s", identifier, status)
}

// FormatSummary renders the per-storage summary line.
func FormatSummary(stats domain.SyncStats) string {
	return fmt.Sprintf("We have synchronized %d and deleted %d files.", stats.Synchronized(), stats.Deleted)
}

// FormatDuration renders a run time the way the summary prints it.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	switch {
	case secs < 1:
		return "< 1 sec"
	case secs < 60:
		return fmt.Sprintf("%d secs", secs)
	case secs < 3600:
		return fmt.Sprintf("%d mins", secs/60)
	default:
		return fmt.Sprintf("%d hrs", secs/3600)
	}
}
