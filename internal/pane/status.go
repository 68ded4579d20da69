package pane

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/platform"
)

// Pane lifecycle statuses published as status files.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusFailed  = "failed"
)

// StatusEvent is one pane lifecycle transition, written atomically to
// the status directory so other processes can react without polling.
type StatusEvent struct {
	PaneID     string `json:"pane_id"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	PrevStatus string `json:"prev_status"`
	Timestamp  int64  `json:"ts"`
}

// StatusDir returns the directory holding per-pane status files.
func StatusDir() string {
	dir, err := config.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentmux", "status")
	}
	return filepath.Join(dir, "status")
}

// WriteStatusEvent atomically writes one status file via tmp + rename
// so watchers never observe a partial JSON document.
func WriteStatusEvent(event StatusEvent) error {
	statusDir := StatusDir()
	if err := os.MkdirAll(statusDir, 0755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	filePath := filepath.Join(statusDir, event.PaneID+".json")
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write tmp status: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}

// ReadPrevStatus reads the last published status for a pane, or "".
func ReadPrevStatus(paneID string) string {
	data, err := os.ReadFile(filepath.Join(StatusDir(), paneID+".json"))
	if err != nil {
		return ""
	}
	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ""
	}
	return event.Status
}

// writeStatus publishes a transition, carrying the previous status
// forward. Failures are logged and ignored; status files are advisory.
func writeStatus(paneID, agent, status string) {
	event := StatusEvent{
		PaneID:     paneID,
		Agent:      agent,
		Status:     status,
		PrevStatus: ReadPrevStatus(paneID),
		Timestamp:  time.Now().Unix(),
	}
	if err := WriteStatusEvent(event); err != nil {
		paneLog.Debug("status_write_failed",
			slog.String("pane", paneID),
			slog.String("error", err.Error()),
		)
	}
}

// RemoveStatus deletes a pane's status file, for pane removal.
func RemoveStatus(paneID string) {
	_ = os.Remove(filepath.Join(StatusDir(), paneID+".json"))
}

// StatusWatcher delivers parsed status events from the status
// directory via fsnotify, debounced so rapid rewrites coalesce.
type StatusWatcher struct {
	statusDir    string
	watcher      *fsnotify.Watcher
	eventCh      chan StatusEvent
	filterPaneID string
	done         chan struct{}
	stopOnce     sync.Once
}

// NewStatusWatcher creates a watcher. If filterPaneID is non-empty,
// only that pane's events are delivered. Call Start in a goroutine,
// then read from EventCh.
func NewStatusWatcher(filterPaneID string) (*StatusWatcher, error) {
	statusDir := StatusDir()
	if err := os.MkdirAll(statusDir, 0755); err != nil {
		return nil, fmt.Errorf("create status dir: %w", err)
	}

	if warn := platform.CheckFsnotifySupport(statusDir); warn != "" {
		paneLog.Warn("status_watcher_degraded", slog.String("reason", warn))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &StatusWatcher{
		statusDir:    statusDir,
		watcher:      watcher,
		eventCh:      make(chan StatusEvent, 64),
		filterPaneID: filterPaneID,
		done:         make(chan struct{}),
	}, nil
}

// Start watches the status directory until Stop is called. Must run in
// its own goroutine.
func (w *StatusWatcher) Start() {
	if err := w.watcher.Add(w.statusDir); err != nil {
		paneLog.Warn("status_watcher_add_failed",
			slog.String("dir", w.statusDir),
			slog.String("error", err.Error()),
		)
		return
	}

	// Coalesce rapid file events before reading.
	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if w.filterPaneID != "" {
				paneID := strings.TrimSuffix(filepath.Base(event.Name), ".json")
				if paneID != w.filterPaneID {
					continue
				}
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pendingFiles))
				for f := range pendingFiles {
					files = append(files, f)
				}
				pendingFiles = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.processStatusFile(f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			paneLog.Warn("status_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *StatusWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
}

// EventCh returns the channel delivering parsed status events.
func (w *StatusWatcher) EventCh() <-chan StatusEvent {
	return w.eventCh
}

// WaitForStatus blocks until an event with one of the given statuses
// arrives or the timeout expires.
func (w *StatusWatcher) WaitForStatus(statuses []string, timeout time.Duration) (StatusEvent, error) {
	statusSet := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		statusSet[s] = true
	}

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.eventCh:
			if statusSet[event.Status] {
				return event, nil
			}
		case <-deadline:
			return StatusEvent{}, fmt.Errorf("timeout after %v waiting for status %v", timeout, statuses)
		case <-w.done:
			return StatusEvent{}, fmt.Errorf("watcher stopped")
		}
	}
}

func (w *StatusWatcher) processStatusFile(filePath string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}
	if w.filterPaneID != "" && event.PaneID != w.filterPaneID {
		return
	}

	// Drop rather than block when the consumer lags.
	select {
	case w.eventCh <- event:
	default:
		paneLog.Warn("status_channel_full", slog.String("pane", event.PaneID))
	}
}
