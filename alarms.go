package dispatcher

import (
	"sync"
	"time"

	"github.com/qdispatch/qdispatch/internal/utils"
)

// lifecycleAlarms owns the two timers spec.md §5 names: deferred session
// destruction and recent-reset-address-memo expiry. Both run on ordinary
// time.AfterFunc-backed goroutines rather than the single-threaded
// "event loop" spec.md's source assumes, since this dispatcher's
// ProcessPacket is instead made safe for concurrent callers by the
// sync.RWMutex/sync.Mutex guards inside connIDMap, bufferedPacketStore,
// timeWaitList and recentResetSet; the alarms only ever need to run their
// callback once per fire, which time.AfterFunc gives directly.
type lifecycleAlarms struct {
	mu sync.Mutex

	closedSessions []closedSessionEntry
	deleteTimer    *time.Timer

	resetSet        *recentResetSet
	resetLifetime   time.Duration
	resetClearTimer *time.Timer
	resetClearArmed bool

	logger utils.Logger
}

type closedSessionEntry struct {
	session Session
}

func newLifecycleAlarms(resetSet *recentResetSet, resetLifetime time.Duration, logger utils.Logger) *lifecycleAlarms {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	return &lifecycleAlarms{resetSet: resetSet, resetLifetime: resetLifetime, logger: logger}
}

// QueueSessionForDeferredDestruction implements spec.md §5's
// delete_sessions_alarm_: "fires immediately when a closed session is
// queued; on fire, clears the closed-session list." The deferral exists so
// a session's own OnConnectionClosed callback (running on its own stack
// frame, inside the session) doesn't free itself out from under that
// frame; see spec.md §9 "Shared ownership of sessions".
func (a *lifecycleAlarms) QueueSessionForDeferredDestruction(sess Session) {
	a.mu.Lock()
	a.closedSessions = append(a.closedSessions, closedSessionEntry{session: sess})
	if a.deleteTimer == nil {
		a.deleteTimer = time.AfterFunc(0, a.fireDeleteSessions)
	}
	a.mu.Unlock()
}

func (a *lifecycleAlarms) fireDeleteSessions() {
	a.mu.Lock()
	entries := a.closedSessions
	a.closedSessions = nil
	a.deleteTimer = nil
	a.mu.Unlock()

	for range entries {
		// The sessions themselves are out of scope (spec.md "Out of
		// scope: Session internals"); draining the list is enough to
		// drop the dispatcher's last reference and let the garbage
		// collector reclaim it.
	}
}

// NoteStatelessReset implements spec.md §5's
// clear_stateless_reset_addresses_alarm_: "fires after
// quic_recent_stateless_reset_addresses_lifetime_ms once any address has
// been recorded; on fire, clears the whole recent-reset set." Call this
// once per reset actually sent; the first call after a clear arms the
// timer, subsequent calls before it fires are no-ops.
func (a *lifecycleAlarms) NoteStatelessReset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resetClearArmed {
		return
	}
	a.resetClearArmed = true
	a.resetClearTimer = time.AfterFunc(a.resetLifetime, a.fireClearResetAddresses)
}

func (a *lifecycleAlarms) fireClearResetAddresses() {
	a.resetSet.Clear()
	a.mu.Lock()
	a.resetClearArmed = false
	a.mu.Unlock()
}

// Stop cancels both alarms, for dispatcher shutdown (spec.md §9
// "Back-references session->dispatcher": "The alarm is cancelled on
// dispatcher destruction.").
func (a *lifecycleAlarms) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteTimer != nil {
		a.deleteTimer.Stop()
	}
	if a.resetClearTimer != nil {
		a.resetClearTimer.Stop()
	}
}
