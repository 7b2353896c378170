// Package ticker implements the process-wide, nonce-indexed table of
// outstanding queries described by the query/ticker subsystem: every
// in-flight protocol exchange (ping, store, route, raw-ping, refresh) is
// registered here with a deadline, an optional retry interval and
// success/error/expire callbacks.
//
// It generalizes the teacher's single fixed-interval reaper
// (node.go's `ping := time.After(reapInterval)` loop, which walks
// n.peers once a second) into a table of independently-timed entries, one
// timer driving all of them the same way node.go's one timer drove all
// peers.
package ticker

import (
	"crypto/rand"
	"sync"
	"time"
)

// Nonce identifies one outstanding query. It is generated at random and
// must be unique across the process while the entry is live.
type Nonce [16]byte

// Callback is invoked for a terminal or retry event on an Entry. It must
// not perform unbounded blocking I/O; if a callback needs to send on the
// wire it should dispatch to a transport worker instead of blocking here.
// onError and onExpire run on the ticker's single scheduler goroutine;
// onSuccess runs on whichever goroutine calls Success.
type Callback func(*Entry)

// Entry is one outstanding query. Kind and Data replace the source
// project's open `data: map<Key,Value>` with a tagged payload: callers
// pick a Kind string and stash whatever typed struct that kind needs in
// Data, then type-assert it back out in their callbacks.
type Entry struct {
	Nonce Nonce
	Kind  string
	Data  interface{}

	deadline    time.Time
	fireAfter   time.Time
	interval    time.Duration
	retriesLeft int

	onSuccess Callback
	onError   Callback
	onExpire  Callback

	cbMu sync.Mutex // serializes callback execution for this entry
}

// Ticker is the process-wide query table plus its background scheduler.
type Ticker struct {
	mu      sync.Mutex
	entries map[Nonce]*Entry

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New starts a Ticker's background scheduler and returns it.
func New() *Ticker {
	t := &Ticker{
		entries: make(map[Nonce]*Entry),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

// Stop halts the scheduler. Outstanding entries are left untouched; no
// callbacks fire as a result of Stop.
func (t *Ticker) Stop() {
	close(t.quit)
	<-t.done
}

func newNonce() (Nonce, error) {
	var n Nonce
	_, err := rand.Read(n[:])
	return n, err
}

// NewEntry allocates a fresh nonce, arms the entry's deadline and (if
// interval is non-zero) its first retry timer, and registers it in the
// table. retries is how many times onError (the retry hook) fires before
// onExpire takes over; interval of 0 disables retries entirely (the entry
// just waits for expiry or an external Success/Deactivate call).
func (t *Ticker) NewEntry(kind string, data interface{}, expireAfter, interval time.Duration, retries int, onSuccess, onError, onExpire Callback) *Entry {
	now := time.Now()

	e := &Entry{
		Kind:        kind,
		Data:        data,
		deadline:    now.Add(expireAfter),
		interval:    interval,
		retriesLeft: retries,
		onSuccess:   onSuccess,
		onError:     onError,
		onExpire:    onExpire,
	}
	if interval > 0 {
		e.fireAfter = now.Add(interval)
	}

	t.mu.Lock()
	for {
		nonce, err := newNonce()
		if err != nil {
			// crypto/rand failure is not recoverable; retry is the only
			// sane move since we must return an armed entry.
			continue
		}
		if _, exists := t.entries[nonce]; exists {
			continue
		}
		e.Nonce = nonce
		t.entries[nonce] = e
		break
	}
	t.mu.Unlock()

	t.poke()
	return e
}

// Get looks up an entry by nonce.
func (t *Ticker) Get(nonce Nonce) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[nonce]
	return e, ok
}

// Update resets an entry's retry timer to now+interval (or to an explicit
// fireAfter if one is given).
func (t *Ticker) Update(e *Entry, fireAfter ...time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(fireAfter) > 0 {
		e.fireAfter = fireAfter[0]
	} else {
		e.fireAfter = time.Now().Add(e.interval)
	}
	t.poke()
}

// Deactivate removes an entry without firing any callback. It is
// idempotent: deactivating an already-removed or unknown entry is a no-op.
// It blocks until any callback already in flight for this entry finishes,
// so that once Deactivate returns the entry is guaranteed quiescent.
func (t *Ticker) Deactivate(e *Entry) {
	t.mu.Lock()
	_, present := t.entries[e.Nonce]
	if present {
		delete(t.entries, e.Nonce)
	}
	t.mu.Unlock()

	e.cbMu.Lock()
	e.cbMu.Unlock() //nolint:staticcheck // intentional: wait out any in-flight callback
}

// Success removes the entry (if still present) and invokes onSuccess.
// Calling Success on an entry that has already fired (expired or been
// deactivated) is a safe no-op — the invariant is that exactly one of
// {onSuccess, onExpire} runs, or Deactivate runs instead of either.
func (t *Ticker) Success(nonce Nonce) {
	t.mu.Lock()
	e, ok := t.entries[nonce]
	if ok {
		delete(t.entries, nonce)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	if e.onSuccess != nil {
		e.onSuccess(e)
	}
}

func (t *Ticker) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run is the single scheduler goroutine: it parks until the nearest
// deadline or fireAfter across all entries, then processes whichever fired.
func (t *Ticker) run() {
	defer close(t.done)

	for {
		next, ok := t.nextWake()

		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-t.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-t.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			t.tick()
		}
	}
}

// nextWake returns the earliest deadline/fireAfter across all live
// entries.
func (t *Ticker) nextWake() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var next time.Time
	found := false
	for _, e := range t.entries {
		candidates := []time.Time{e.deadline}
		if e.interval > 0 {
			candidates = append(candidates, e.fireAfter)
		}
		for _, c := range candidates {
			if !found || c.Before(next) {
				next = c
				found = true
			}
		}
	}
	return next, found
}

// tick processes every entry whose fireAfter or deadline has passed.
func (t *Ticker) tick() {
	now := time.Now()

	t.mu.Lock()
	due := make([]*Entry, 0, len(t.entries))
	expired := make([]*Entry, 0)
	for nonce, e := range t.entries {
		if !e.deadline.After(now) {
			delete(t.entries, nonce)
			expired = append(expired, e)
			continue
		}
		if e.interval > 0 && !e.fireAfter.After(now) && e.retriesLeft > 0 {
			e.retriesLeft--
			e.fireAfter = now.Add(e.interval)
			due = append(due, e)
		}
	}
	t.mu.Unlock()

	for _, e := range due {
		e.cbMu.Lock()
		if e.onError != nil {
			e.onError(e)
		}
		e.cbMu.Unlock()
	}
	for _, e := range expired {
		e.cbMu.Lock()
		if e.onExpire != nil {
			e.onExpire(e)
		}
		e.cbMu.Unlock()
	}
}
