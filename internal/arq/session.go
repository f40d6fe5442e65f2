package arq

/*------------------------------------------------------------------
 *
 * Purpose:	Shared session plumbing used by both the ISS and IRS drivers.
 *
 * Description:	Each session owns a goroutine running its state machine,
 *		the Go analogue of the original source's per-session worker
 *		thread with condition-variable waits. latch[T] replaces the
 *		C side's "set event, signal condvar, waiter wakes and reads
 *		a shared struct" dance with a capacity-1 channel: the last
 *		write before a receive wins, which is exactly the semantics
 *		an ARQ driver wants (only the most recent frame of a given
 *		kind matters, stale ones are silently superseded).
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// latch is a single-slot, last-writer-wins mailbox for one event kind. Set
// never blocks: it drains any stale value first, so the most recent Set
// before a Wait always wins.
type latch[T any] struct {
	mu sync.Mutex
	ch chan T
}

func newLatch[T any]() *latch[T] {
	return &latch[T]{ch: make(chan T, 1)}
}

// Set stores v, discarding whatever was previously pending.
func (l *latch[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
	}
	l.ch <- v
}

// Wait blocks until a value is Set or ctx is cancelled.
func (l *latch[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-l.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// sessionBase carries the fields and the Abort mechanics common to both
// ISS and IRS drivers.
type sessionBase struct {
	id     uint8
	dxcall string
	mycall string

	ctx    context.Context
	cancel context.CancelFunc

	tq     *TransmitQueue
	codec  FrameCodec
	events EventBroadcaster
	log    *log.Logger

	// terminal latches once true and stays true: after it is set, the
	// driver must not enqueue any further frame (§3 terminal-state
	// invariant).
	mu       sync.Mutex
	terminal bool
	state    string

	// onDone, when set, is invoked exactly once after Run returns,
	// regardless of which terminal state it reached. Session constructors
	// don't know about the registry that holds them (§4.7's global-state
	// elimination keeps that wiring at the call site), so this is the hook
	// a factory uses to remove the entry once the driver task exits.
	onDone func()
}

func newSessionBase(id uint8, mycall, dxcall string, tq *TransmitQueue, codec FrameCodec, events EventBroadcaster, logger *log.Logger) sessionBase {
	ctx, cancel := context.WithCancel(context.Background())
	return sessionBase{
		id:     id,
		dxcall: dxcall,
		mycall: mycall,
		ctx:    ctx,
		cancel: cancel,
		tq:     tq,
		codec:  codec,
		events: events,
		log:    defaultLogger(logger),
	}
}

func (s *sessionBase) ID() uint8                { return s.id }
func (s *sessionBase) Dxcall() string           { return s.dxcall }
func (s *sessionBase) Context() context.Context { return s.ctx }

// SetOnDone registers f to run once, after Run has returned, so a caller
// that inserted this session into a Registry can remove it again (§3's
// lifecycle: "destroyed when the driver task exits and the registry
// removes the entry"). Must be called before Run is launched.
func (s *sessionBase) SetOnDone(f func()) {
	s.onDone = f
}

func (s *sessionBase) runOnDone() {
	if s.onDone != nil {
		s.onDone()
	}
}

// Abort cancels the session's context, waking any blocked Wait or Enqueue
// with ctx.Err(), and immediately moves the session to DISCONNECTED per
// §5 ("abort() ... sets the state to DISCONNECTED"). It is idempotent and
// safe to call from any goroutine, including the dispatcher routing an
// unrelated frame: enterTerminal is a no-op if the session already reached
// a terminal state on its own.
func (s *sessionBase) Abort() {
	s.cancel()
	s.enterTerminal(stateDisconnected)
}

// setState records the current state name for inspection/logging; it does
// not itself enforce transition legality, the driver's own control flow
// does that by construction (a linear sequence of phase functions, as in
// the original IRS/ISS implementations).
func (s *sessionBase) setState(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = name
	s.log.Debug("session state", "session_id", s.id, "dxcall", s.dxcall, "state", name)
}

func (s *sessionBase) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// enterTerminal marks the session terminal; once set, transmitFrame refuses
// to enqueue anything further. First write wins: if the session already
// reached a terminal state (most notably via a concurrent Abort()), a later
// call naming a different terminal state is ignored rather than clobbering
// it - this is what keeps an aborted session DISCONNECTED instead of a
// racing phase function overwriting it with FAILED.
func (s *sessionBase) enterTerminal(state string) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.state = state
	s.mu.Unlock()
	s.log.Info("session terminal", "session_id", s.id, "dxcall", s.dxcall, "state", state)
}

func (s *sessionBase) isTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// ErrSessionTerminal is returned by transmitFrame when called after the
// session has already reached a terminal state.
type ErrSessionTerminal struct {
	SessionID uint8
	State     string
}

func (e ErrSessionTerminal) Error() string {
	return fmt.Sprintf("arq: session %d is terminal (%s), refusing to transmit", e.SessionID, e.State)
}

// transmitFrame encodes f and enqueues it on the shared transmit queue. It
// is the only path by which a session driver puts bytes on the air, which
// is what makes the terminal-state check in one place sufficient to satisfy
// the invariant that a terminal session transmits nothing further.
func (s *sessionBase) transmitFrame(f *Frame, item TxItem) error {
	if s.isTerminal() {
		return ErrSessionTerminal{SessionID: s.id, State: s.State()}
	}
	payload, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	if item.Repeats == 0 {
		item.Repeats = 1
	}
	item.Payload = payload
	return s.tq.Enqueue(s.ctx, item)
}
