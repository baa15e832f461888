package loca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CycleState names the stations of one poll cycle.
type CycleState string

const (
	StateIdle             CycleState = "idle"
	StateAuthenticating   CycleState = "authenticating"
	StateRefreshingGroups CycleState = "refreshing_groups"
	StateFetchingStatus   CycleState = "fetching_status"
	StateNormalizing      CycleState = "normalizing"
	StateDiffing          CycleState = "diffing"
	StatePublished        CycleState = "published"
	StateAuthFailed       CycleState = "auth_failed"
	StateTransientFailed  CycleState = "transient_failed"
)

// Condition is a user-visible state the host can surface.
type Condition string

const (
	ConditionAuthFailed Condition = "auth_failed"
	ConditionTransient  Condition = "transient_failure"
	ConditionNoDevices  Condition = "no_devices"
)

// ConditionSink receives condition transitions. AuthFailed asks for
// credential re-entry; Transient conditions clear on the next successful
// cycle; NoDevices is a non-urgent notice.
type ConditionSink interface {
	Raise(condition Condition, message string)
	Clear(condition Condition)
}

// LogSink is the default sink: conditions go to the log and nowhere else.
type LogSink struct{}

func (LogSink) Raise(condition Condition, message string) {
	logrus.Warnf("loca: condition %s: %s", condition, message)
}

func (LogSink) Clear(condition Condition) {
	logrus.Debugf("loca: condition %s cleared", condition)
}

// TransientError marks a retryable communication failure. The next
// scheduled cycle is the retry; there is no internal backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("loca: communication failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// authVocabulary matches exception text that indicates a rejected
// session. Substring matching is fragile (an unrelated error containing
// "403" would be misclassified) but is kept for compatibility with the
// vendor's observed behavior.
var authVocabulary = []string{"auth", "401", "403", "unauthorized", "forbidden"}

// classifyError reclassifies an arbitrary cycle error as AuthError when
// its text matches the authentication vocabulary, TransientError
// otherwise.
func classifyError(err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}

	text := strings.ToLower(err.Error())
	for _, term := range authVocabulary {
		if strings.Contains(text, term) {
			return &AuthError{Op: "poll", Reason: err.Error()}
		}
	}
	return &TransientError{Err: err}
}

const emptyCyclesBeforeNotice = 3

// Poller drives the periodic authenticate → refresh groups → fetch →
// normalize → diff → publish cycle for one credential set. Cycles are
// serialized on a single loop; the published snapshot is replaced
// wholesale, never partially.
type Poller struct {
	client   *Client
	interval time.Duration
	sink     ConditionSink
	refresh  chan chan error

	mu          sync.RWMutex
	devices     map[string]Device
	generation  uint64
	state       CycleState
	lastErr     error
	lastSuccess time.Time
	emptyCycles int
	cycleCounts map[CycleState]uint64
	listeners   []func(devices map[string]Device, generation uint64)
}

// NewPoller builds a poller. A nil sink falls back to log-only.
func NewPoller(client *Client, interval time.Duration, sink ConditionSink) *Poller {
	if sink == nil {
		sink = LogSink{}
	}
	return &Poller{
		client:      client,
		interval:    interval,
		sink:        sink,
		refresh:     make(chan chan error),
		devices:     make(map[string]Device),
		state:       StateIdle,
		cycleCounts: make(map[CycleState]uint64),
	}
}

// Subscribe registers a callback invoked after every published snapshot.
// Must be called before Run.
func (p *Poller) Subscribe(fn func(devices map[string]Device, generation uint64)) {
	p.listeners = append(p.listeners, fn)
}

// Run polls on the configured interval until stop closes. Forced
// refreshes share the same loop, so cycles never overlap.
func (p *Poller) Run(stop <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	p.runCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.runCycle(ctx)
		case done := <-p.refresh:
			done <- p.runCycle(ctx)
		}
	}
}

// Refresh forces one poll cycle out of schedule and reports its outcome.
func (p *Poller) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case p.refresh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current device mapping.
func (p *Poller) Snapshot() map[string]Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	devices := make(map[string]Device, len(p.devices))
	for id, device := range p.devices {
		devices[id] = device
	}
	return devices
}

// Device returns one device from the current snapshot.
func (p *Poller) Device(id string) (Device, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	device, ok := p.devices[id]
	return device, ok
}

// Generation returns the snapshot generation counter. It increases on
// every publish and is the only valid cache-invalidation marker for
// derived lookups.
func (p *Poller) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// State returns the most recent cycle state.
func (p *Poller) State() CycleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastError returns the most recent cycle failure, nil after a success.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// LastSuccess returns the time of the last published snapshot.
func (p *Poller) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

// CycleCounts returns cycle outcome counters keyed by terminal state.
func (p *Poller) CycleCounts() map[CycleState]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := make(map[CycleState]uint64, len(p.cycleCounts))
	for state, count := range p.cycleCounts {
		counts[state] = count
	}
	return counts
}

func (p *Poller) setState(state CycleState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *Poller) finishCycle(state CycleState, err error) {
	p.mu.Lock()
	p.state = state
	p.lastErr = err
	p.cycleCounts[state]++
	p.mu.Unlock()
}

func (p *Poller) runCycle(ctx context.Context) error {
	err := p.cycle(ctx)
	if err == nil {
		p.sink.Clear(ConditionTransient)
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		p.finishCycle(StateAuthFailed, err)
		p.sink.Raise(ConditionAuthFailed, err.Error())
		logrus.Errorf("loca: poll cycle failed, credentials need attention: %v", err)
		return err
	}

	p.finishCycle(StateTransientFailed, err)
	p.sink.Raise(ConditionTransient, err.Error())
	logrus.Warnf("loca: poll cycle failed, will retry next interval: %v", err)
	return err
}

func (p *Poller) cycle(ctx context.Context) error {
	p.setState(StateAuthenticating)
	if !p.client.IsAuthenticated() && !p.client.Authenticate(ctx) {
		return &AuthError{Op: "login", Reason: "authentication failed"}
	}

	p.setState(StateRefreshingGroups)
	if err := p.client.UpdateGroupsCache(ctx); err != nil {
		return classifyError(err)
	}

	p.setState(StateFetchingStatus)
	statusList := p.client.StatusList(ctx)
	if err := ctx.Err(); err != nil {
		// Cancelled mid-fetch: discard rather than publish a partial view.
		return classifyError(err)
	}

	if len(statusList) == 0 {
		if !p.client.IsAuthenticated() {
			return &AuthError{Op: "status list", Reason: "authentication required"}
		}
		p.mu.Lock()
		p.emptyCycles++
		emptyCycles := p.emptyCycles
		p.mu.Unlock()
		logrus.Infof("loca: no devices in status list (cycle %d)", emptyCycles)
		if emptyCycles >= emptyCyclesBeforeNotice {
			p.sink.Raise(ConditionNoDevices,
				fmt.Sprintf("no devices reported for %d consecutive polls", emptyCycles))
		}
	}

	p.setState(StateNormalizing)
	devices := make(map[string]Device, len(statusList))
	for _, entry := range statusList {
		device := p.client.ParseStatusDevice(entry)
		devices[device.DeviceID] = device
	}

	p.setState(StateDiffing)
	p.mu.Lock()
	previous := p.devices
	for id, device := range devices {
		if _, seen := previous[id]; !seen && len(previous) > 0 {
			logrus.Infof("loca: new device discovered: %s (%s)", device.Name, id)
		}
	}
	for id, device := range previous {
		if _, kept := devices[id]; !kept {
			logrus.Infof("loca: device removed: %s (%s)", device.Name, id)
		}
	}

	p.devices = devices
	p.generation++
	generation := p.generation
	p.state = StatePublished
	p.lastErr = nil
	p.lastSuccess = time.Now()
	p.cycleCounts[StatePublished]++
	if len(devices) > 0 {
		p.emptyCycles = 0
	}
	p.mu.Unlock()

	if len(devices) > 0 {
		p.sink.Clear(ConditionNoDevices)
		p.sink.Clear(ConditionAuthFailed)
	}

	logrus.Debugf("loca: published snapshot generation %d with %d devices",
		generation, len(devices))

	snapshot := p.Snapshot()
	for _, listener := range p.listeners {
		listener(snapshot, generation)
	}

	return nil
}
