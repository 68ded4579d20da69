package pane

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/eventlog"
)

// Manager owns all panes and their drain loops. It is the only shared
// state between panes besides the event store itself.
type Manager struct {
	recorder *eventlog.Recorder

	mu    sync.Mutex
	panes map[string]*paneEntry

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

type paneEntry struct {
	pane *Pane
	stop chan struct{}
}

// NewManager creates a manager whose drain loops live under ctx.
func NewManager(ctx context.Context, recorder *eventlog.Recorder) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	return &Manager{
		recorder: recorder,
		panes:    make(map[string]*paneEntry),
		group:    group,
		ctx:      gctx,
		cancel:   cancel,
	}
}

// StartPane creates a pane, records its creation and starts its drain
// loop.
func (m *Manager) StartPane(id, agent, cwd string) (*Pane, error) {
	m.mu.Lock()
	if _, exists := m.panes[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("pane %q already exists", id)
	}
	m.mu.Unlock()

	termSettings := config.GetTerminalSettings()
	transcriptSettings := config.GetTranscriptSettings()

	p, err := New(Options{
		ID:           id,
		Agent:        agent,
		Cwd:          cwd,
		Cols:         termSettings.Cols,
		Rows:         termSettings.Rows,
		HistoryLines: termSettings.HistoryLines,
		DedupWindow:  time.Duration(transcriptSettings.DedupSeconds) * time.Second,
		Recorder:     m.recorder,
	})
	if err != nil {
		return nil, err
	}

	entry := &paneEntry{pane: p, stop: make(chan struct{})}
	m.mu.Lock()
	m.panes[id] = entry
	m.mu.Unlock()

	if m.recorder != nil {
		m.recorder.Record(id, 0, agent, eventlog.TypePaneCreated,
			map[string]any{"pane_id": id, "agent": agent})
	}

	m.group.Go(func() error {
		m.drainLoop(entry)
		return nil
	})
	return p, nil
}

func (m *Manager) drainLoop(entry *paneEntry) {
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-entry.stop:
			return
		case <-ticker.C:
			entry.pane.Drain()
		}
	}
}

// Get returns a pane by id.
func (m *Manager) Get(id string) (*Pane, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.panes[id]
	if !ok {
		return nil, false
	}
	return entry.pane, true
}

// IDs returns all pane ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.panes))
	for id := range m.panes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemovePane stops a pane, records its removal and deletes its status
// file.
func (m *Manager) RemovePane(id string) error {
	m.mu.Lock()
	entry, ok := m.panes[id]
	if ok {
		delete(m.panes, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("pane %q not found", id)
	}

	close(entry.stop)
	err := entry.pane.Close()

	if m.recorder != nil {
		m.recorder.Record(id, entry.pane.TaskID(), entry.pane.Agent(),
			eventlog.TypePaneRemoved, map[string]any{"pane_id": id})
	}
	RemoveStatus(id)
	return err
}

// Close stops every pane and waits for the drain loops to finish.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	entries := make([]*paneEntry, 0, len(m.panes))
	for _, entry := range m.panes {
		entries = append(entries, entry)
	}
	m.panes = make(map[string]*paneEntry)
	m.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if err := entry.pane.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.group.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
