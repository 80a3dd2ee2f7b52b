// Package quota handles quota-exhaustion waits: on a QuotaExceeded signal
// it computes the next quota-reset instant in the platform's reset
// timezone, sleeps until then with periodic progress and cooperative
// cancellation, then probes the remote before handing control back to the
// scheduler.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/onnwee/ytarchive/internal/telemetry"
)

// State is the manager's lifecycle state: Idle -> Waiting(until) ->
// Probing -> Idle|Waiting, with GaveUp terminal.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateProbing State = "probing"
	StateGaveUp  State = "gave-up"
)

// resetTimezone is the YouTube Data API's quota reset timezone (midnight
// Pacific Time, DST-aware).
const resetTimezone = "America/Los_Angeles"

// ProbeFunc makes one cheap remote call to check whether the quota window
// has actually reopened.
type ProbeFunc func(ctx context.Context) error

// Manager implements the Quota Manager contract.
type Manager struct {
	CheckInterval time.Duration // default 30 minutes
	MaxWait       time.Duration // default 48 hours
	Probe         ProbeFunc

	// MarkerPath, if set, is where the Manager records its state while
	// Waiting/Probing/GaveUp, so a separately invoked process (the info
	// command) can report a run is paused. Idle clears the marker.
	MarkerPath string

	state     State
	waitStart time.Time
	resumeAt  time.Time
}

// DefaultMarkerPath is the conventional on-disk path for a Manager's pause
// marker under archiveRoot, matching config.DefaultConfigPath's .ytarchive
// layout.
func DefaultMarkerPath(archiveRoot string) string {
	return archiveRoot + "/.ytarchive/quota-pause.json"
}

// PauseMarker is the JSON shape written to MarkerPath while a run is
// suspended on a quota window, and read back by the info command.
type PauseMarker struct {
	State    State     `json:"state"`
	Since    time.Time `json:"since"`
	ResumeAt time.Time `json:"resume_at"`
}

// ReadMarker reads and parses the pause marker at path, returning (nil, nil)
// if no run is currently paused.
func ReadMarker(path string) (*PauseMarker, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota: read pause marker: %w", err)
	}
	var m PauseMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("quota: parse pause marker: %w", err)
	}
	return &m, nil
}

// New builds a Manager with the default wait policy, overridden by
// non-zero fields.
func New(checkInterval, maxWait time.Duration, probe ProbeFunc) *Manager {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Minute
	}
	if maxWait <= 0 {
		maxWait = 48 * time.Hour
	}
	return &Manager{CheckInterval: checkInterval, MaxWait: maxWait, Probe: probe, state: StateIdle}
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State { return m.state }

func (m *Manager) setState(s State) {
	m.state = s
	telemetry.SetQuotaState(string(s))
	m.writeMarker(s)
}

// writeMarker persists s to MarkerPath so a concurrently running info
// command can report a paused run; it clears the marker once the Manager
// returns to Idle. Marker I/O failures are logged, not fatal: the quota
// wait itself must not fail because the marker couldn't be written.
func (m *Manager) writeMarker(s State) {
	if m.MarkerPath == "" {
		return
	}
	if s == StateIdle {
		if err := os.Remove(m.MarkerPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("quota: remove pause marker failed", slog.Any("err", err))
		}
		return
	}
	marker := PauseMarker{State: s, Since: m.waitStart, ResumeAt: m.resumeAt}
	data, err := json.Marshal(marker)
	if err != nil {
		slog.Warn("quota: marshal pause marker failed", slog.Any("err", err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.MarkerPath), 0o755); err != nil {
		slog.Warn("quota: mkdir for pause marker failed", slog.Any("err", err))
		return
	}
	if err := renameio.WriteFile(m.MarkerPath, data, 0o644); err != nil {
		slog.Warn("quota: write pause marker failed", slog.Any("err", err))
	}
}

// NextReset computes the next quota-reset instant: midnight in
// resetTimezone, DST-aware, strictly after now.
func NextReset(now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(resetTimezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("quota: load timezone %s: %w", resetTimezone, err)
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return next, nil
}

// Wait blocks until the quota window resets (or MaxWait elapses, or ctx is
// canceled), issuing a progress log every CheckInterval and probing the
// remote once the reset time has passed. It returns nil once Probe
// succeeds, ctx.Err() on cancellation, and an error once MaxWait is
// exceeded (terminal GaveUp).
func (m *Manager) Wait(ctx context.Context) error {
	if telemetry.QuotaWaits != nil {
		telemetry.QuotaWaits.Inc()
	}
	start := time.Now()
	until, err := NextReset(start)
	if err != nil {
		return err
	}
	m.waitStart = start
	m.resumeAt = until
	m.setState(StateWaiting)
	slog.Warn("quota exceeded; suspending run", slog.Time("resume_at", until), slog.Duration("wait", time.Until(until)))

	deadline := start.Add(m.MaxWait)
	ticker := time.NewTicker(m.CheckInterval)
	defer ticker.Stop()

	for {
		remaining := time.Until(until)
		if remaining <= 0 {
			break
		}
		wait := remaining
		if wait > m.CheckInterval {
			wait = m.CheckInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setState(StateIdle)
			return ctx.Err()
		case <-timer.C:
		}
		if time.Now().After(deadline) {
			m.setState(StateGaveUp)
			return fmt.Errorf("quota: exceeded max wait of %s without reset", m.MaxWait)
		}
		slog.Info("quota wait in progress", slog.Duration("remaining", time.Until(until)))
	}

	m.setState(StateProbing)
	for {
		if m.Probe == nil {
			m.setState(StateIdle)
			return nil
		}
		if err := m.Probe(ctx); err == nil {
			m.setState(StateIdle)
			return nil
		}
		if ctx.Err() != nil {
			m.setState(StateIdle)
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			m.setState(StateGaveUp)
			return fmt.Errorf("quota: still failing after max wait of %s", m.MaxWait)
		}
		m.setState(StateWaiting)
		select {
		case <-ctx.Done():
			m.setState(StateIdle)
			return ctx.Err()
		case <-time.After(m.CheckInterval):
		}
		m.setState(StateProbing)
	}
}
