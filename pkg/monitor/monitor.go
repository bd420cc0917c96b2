// Package monitor polls live interface state, derives per-peer attributes,
// detects changes and persists each snapshot for external readers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/wgkeeper/pkg/core"
	"github.com/irctrakz/wgkeeper/pkg/fsutil"
	"github.com/irctrakz/wgkeeper/pkg/logging"
	"github.com/irctrakz/wgkeeper/pkg/metrics"
	"github.com/irctrakz/wgkeeper/pkg/wireguard"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

var (
	ErrRunning = errors.New("monitor already running")
	ErrStopped = errors.New("monitor stopped")
)

// State is the position of a monitor in its poll cycle.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateSaved
	StatePollFailed
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSaved:
		return "saved"
	case StatePollFailed:
		return "poll-failed"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configures a Monitor.
type Options struct {
	Interface   string
	Source      wireguard.Source
	StatusDir   string
	Interval    time.Duration
	AdminSubnet string
	UserSubnet  string
	Owner       *fsutil.Ownership
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Monitor polls one interface. It is created idle; Start or Run begins
// polling and Stop ends it for good.
type Monitor struct {
	iface      string
	source     wireguard.Source
	statusPath string
	interval   time.Duration
	classifier Classifier
	owner      *fsutil.Ownership
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *logrus.Entry

	pollMu sync.Mutex

	mu          sync.RWMutex
	state       State
	last        *core.Snapshot
	lastSuccess time.Time
	running     bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates an idle monitor and its status directory.
func New(opts Options) (*Monitor, error) {
	if !wireguard.ValidInterfaceName(opts.Interface) {
		return nil, fmt.Errorf("invalid interface name %q", opts.Interface)
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("monitor %s: a state source is required", opts.Interface)
	}
	if opts.StatusDir == "" {
		return nil, fmt.Errorf("monitor %s: a status directory is required", opts.Interface)
	}
	if err := fsutil.EnsureDir(opts.StatusDir, opts.Owner); err != nil {
		return nil, core.FromOS("prepare status directory", opts.StatusDir, err)
	}
	m := &Monitor{
		iface:      opts.Interface,
		source:     opts.Source,
		statusPath: StatusPath(opts.StatusDir, opts.Interface),
		interval:   opts.Interval,
		classifier: NewClassifier(opts.AdminSubnet, opts.UserSubnet),
		owner:      opts.Owner,
		metrics:    opts.Metrics,
		now:        opts.Now,
		log:        logging.Component("monitor").WithField("interface", opts.Interface),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Interface returns the monitored interface name.
func (m *Monitor) Interface() string { return m.iface }

// StatusPath returns the path of the persisted status file.
func (m *Monitor) StatusPath() string { return m.statusPath }

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the last successfully parsed snapshot, or nil before the
// first one. Snapshots are replaced, never modified, once published.
func (m *Monitor) Current() *core.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// LastSuccess returns the time of the last successful poll.
func (m *Monitor) LastSuccess() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccess
}

// setState moves to s unless the monitor is already stopped.
func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Monitor) setStateLocked(s State) {
	if m.state != StateStopped {
		m.state = s
	}
}

// PollOnce runs a single cycle: query, derive, persist, compare. It reports
// whether the snapshot changed. On failure the stored snapshot, in memory
// and on disk, is left as it was.
func (m *Monitor) PollOnce(ctx context.Context) (bool, error) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.setState(StatePolling)
	snap, err := m.source.Query(ctx, m.iface)
	if err != nil {
		return false, m.pollFailed("query", err)
	}
	now := m.now()
	snap.Timestamp = now
	snap.Interface = m.iface
	Derive(snap, now, m.classifier)

	if err := WriteStatus(m.statusPath, snap, m.owner); err != nil {
		return false, m.pollFailed("save", err)
	}

	m.mu.Lock()
	changed := Changed(m.last, snap)
	m.last = snap
	m.lastSuccess = now
	m.setStateLocked(StateSaved)
	m.mu.Unlock()

	m.metrics.PollSucceeded(snap, changed)
	if changed {
		m.log.WithFields(logrus.Fields{
			"peers":  len(snap.Peers),
			"online": snap.OnlineCount(),
		}).Info("status changed")
	}
	return changed, nil
}

func (m *Monitor) pollFailed(step string, err error) error {
	m.setState(StatePollFailed)
	m.metrics.PollFailed(m.iface)
	m.log.WithError(err).WithField("step", step).Error("status poll failed")
	return err
}

func (m *Monitor) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return ErrStopped
	}
	if m.running {
		return ErrRunning
	}
	m.running = true
	return nil
}

// Start launches the poll loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.claim(); err != nil {
		return err
	}
	go m.loop(ctx)
	return nil
}

// Run polls until ctx is done or Stop is called. A failed poll is logged
// and the loop carries on.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.claim(); err != nil {
		return err
	}
	m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	defer func() {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
	}()

	m.log.WithField("interval", m.interval).Info("monitor started")
	defer m.log.Info("monitor stopped")

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		_, _ = m.PollOnce(ctx)

		m.setState(StateSleeping)
		t := time.NewTimer(m.interval)
		select {
		case <-m.stopCh:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Stop asks the loop to exit at its next check point and waits up to
// timeout for it. An in-flight poll is allowed to finish. It reports
// whether the loop exited in time; if not, a warning is logged and the
// loop is left to finish on its own.
func (m *Monitor) Stop(timeout time.Duration) bool {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	running := m.running
	if !running {
		m.state = StateStopped
	}
	m.mu.Unlock()
	if !running {
		return true
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.done:
		return true
	case <-t.C:
		m.log.WithField("timeout", timeout).Warn("monitor did not stop in time")
		return false
	}
}
