package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/therisingtsun/fruit-match/internal/protocol"
)

const (
	// RevealDelay is how long mismatched cards stay visible before the
	// conceal cue. A continuing match schedules with zero delay instead.
	RevealDelay = time.Second
	// ConcealGap separates the pre-conceal cue from the authoritative
	// concealment, giving clients time to animate the flip-back.
	ConcealGap = 250 * time.Millisecond
)

// Revealer runs the two-phase reveal/conceal choreography after each
// turn decision. Tasks are keyed by session code and carry the state
// epoch they were scheduled against: a task whose session is gone or
// whose state was superseded broadcasts nothing. At most one task is
// live per session; a newer schedule supersedes the older one.
type Revealer struct {
	clock  clockwork.Clock
	lookup func(code string) (*Session, bool)

	mu    sync.Mutex
	tasks map[string]revealTask
}

type revealTask struct {
	timer clockwork.Timer
	done  chan struct{}
	stop  func() // idempotent close of done
}

func newRevealer(clock clockwork.Clock, lookup func(string) (*Session, bool)) *Revealer {
	return &Revealer{
		clock:  clock,
		lookup: lookup,
		tasks:  make(map[string]revealTask),
	}
}

// Schedule queues phase A (the ending-turn cue) after delay, followed by
// phase B (buffer clear + end-turn) after ConcealGap.
func (r *Revealer) Schedule(code string, epoch uint64, delay time.Duration) {
	done := make(chan struct{})
	task := revealTask{
		timer: r.clock.NewTimer(delay),
		done:  done,
		stop:  sync.OnceFunc(func() { close(done) }),
	}
	r.register(code, task)
	go r.run(code, epoch, task)
}

func (r *Revealer) run(code string, epoch uint64, task revealTask) {
	defer r.release(code, task)

	select {
	case <-task.timer.Chan():
	case <-task.done:
		return
	}
	sess, ok := r.lookup(code)
	if !ok {
		return
	}
	view, ok := sess.RevealSnapshot(epoch)
	if !ok {
		return
	}
	sess.Broadcast(protocol.Encode(protocol.EvtEndingTurn, protocol.TurnState{SolvedState: view}))

	task.timer = r.clock.NewTimer(ConcealGap)
	if !r.swap(code, task) {
		// A newer schedule or a cancel took the slot while the cue was
		// in flight; phase B belongs to the winner.
		stopAndDrain(task.timer)
		return
	}
	select {
	case <-task.timer.Chan():
	case <-task.done:
		return
	}
	sess, ok = r.lookup(code)
	if !ok {
		return
	}
	view, ok = sess.ConcealSnapshot(epoch)
	if !ok {
		return
	}
	sess.Broadcast(protocol.Encode(protocol.EvtEndTurn, protocol.TurnState{SolvedState: view}))
}

// register installs a task for the session, cancelling any previous task
// that belongs to a different scheduling.
func (r *Revealer) register(code string, task revealTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tasks[code]; ok && old.done != task.done {
		stopAndDrain(old.timer)
		old.stop()
	}
	r.tasks[code] = task
}

// swap moves a task from phase A to phase B, but only while it still owns
// the session's slot.
func (r *Revealer) swap(code string, task revealTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.tasks[code]
	if !ok || old.done != task.done {
		return false
	}
	r.tasks[code] = task
	return true
}

// release drops the task's entry once its goroutine exits, unless the
// slot has already moved on to a newer task.
func (r *Revealer) release(code string, task revealTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tasks[code]; ok && old.done == task.done {
		delete(r.tasks, code)
	}
}

// Cancel stops and discards any pending task for the session.
func (r *Revealer) Cancel(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tasks[code]; ok {
		stopAndDrain(old.timer)
		old.stop()
		delete(r.tasks, code)
	}
}

// stopAndDrain stops a timer and drains an already-fired channel so no
// waiter observes a stale tick.
func stopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
