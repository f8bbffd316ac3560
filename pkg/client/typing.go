package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypingDebounce = 500 * time.Millisecond
	TypingIdle     = 2 * time.Second
	// TypingTimeout bounds how long a peer shows as typing without a refresh.
	TypingTimeout = 3 * time.Second
)

// Typer turns local keystrokes into typing / stopTyping signals. Keystrokes
// within one debounce window collapse into a single typing signal; stop is
// sent after the idle period or right away on Stop.
//
// emit runs with the Typer locked and must not call back into it.
type Typer struct {
	emit     func(typing bool)
	debounce time.Duration
	idle     time.Duration

	mu        sync.Mutex
	pending   *time.Timer
	idleTimer *time.Timer
	announced bool
	epoch     uint64
	idleSeq   uint64
}

func NewTyper(emit func(typing bool), debounce, idle time.Duration) *Typer {
	if debounce <= 0 {
		debounce = TypingDebounce
	}
	if idle <= 0 {
		idle = TypingIdle
	}
	return &Typer{emit: emit, debounce: debounce, idle: idle}
}

// Keystroke records local input activity.
func (t *Typer) Keystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		epoch := t.epoch
		t.pending = time.AfterFunc(t.debounce, func() { t.flush(epoch) })
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleSeq++
	seq := t.idleSeq
	t.idleTimer = time.AfterFunc(t.idle, func() { t.expire(seq) })
}

// Stop ends the typing state now, e.g. when the message is sent.
func (t *Typer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// Active reports whether a typing signal is outstanding.
func (t *Typer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.announced
}

func (t *Typer) flush(epoch uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		return
	}
	t.pending = nil
	t.announced = true
	t.emit(true)
}

func (t *Typer) expire(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if seq != t.idleSeq {
		return
	}
	t.reset()
}

func (t *Typer) reset() {
	t.epoch++
	t.idleSeq++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	if t.announced {
		t.announced = false
		t.emit(false)
	}
}

// Indicator tracks which peers are typing. Each entry clears itself after
// the timeout, so a lost stopTyping never leaves it stuck.
type Indicator struct {
	timeout  time.Duration
	onChange func(from uuid.UUID, typing bool)

	mu    sync.Mutex
	seq   uint64
	peers map[uuid.UUID]indicatorEntry
}

type indicatorEntry struct {
	seq   uint64
	timer *time.Timer
}

func NewIndicator(timeout time.Duration, onChange func(from uuid.UUID, typing bool)) *Indicator {
	if timeout <= 0 {
		timeout = TypingTimeout
	}
	return &Indicator{timeout: timeout, onChange: onChange, peers: make(map[uuid.UUID]indicatorEntry)}
}

// Apply consumes the realtime events relevant to typing state. A message
// from a peer ends their typing state.
func (ind *Indicator) Apply(ev Event) {
	switch ev.Kind {
	case EventUserTyping:
		ind.Set(ev.FromUser)
	case EventUserStopTyping:
		ind.Clear(ev.FromUser)
	case EventNewMessage:
		if ev.Message != nil {
			ind.Clear(ev.Message.FromUser)
		}
	}
}

func (ind *Indicator) Set(from uuid.UUID) {
	ind.mu.Lock()
	prev, was := ind.peers[from]
	if was {
		prev.timer.Stop()
	}
	ind.seq++
	seq := ind.seq
	ind.peers[from] = indicatorEntry{
		seq:   seq,
		timer: time.AfterFunc(ind.timeout, func() { ind.expire(from, seq) }),
	}
	ind.mu.Unlock()

	if !was {
		ind.notify(from, true)
	}
}

func (ind *Indicator) Clear(from uuid.UUID) {
	ind.mu.Lock()
	e, ok := ind.peers[from]
	if ok {
		e.timer.Stop()
		delete(ind.peers, from)
	}
	ind.mu.Unlock()

	if ok {
		ind.notify(from, false)
	}
}

func (ind *Indicator) IsTyping(from uuid.UUID) bool {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	_, ok := ind.peers[from]
	return ok
}

func (ind *Indicator) expire(from uuid.UUID, seq uint64) {
	ind.mu.Lock()
	e, ok := ind.peers[from]
	if !ok || e.seq != seq {
		ind.mu.Unlock()
		return
	}
	delete(ind.peers, from)
	ind.mu.Unlock()

	ind.notify(from, false)
}

func (ind *Indicator) notify(from uuid.UUID, typing bool) {
	if ind.onChange != nil {
		ind.onChange(from, typing)
	}
}
