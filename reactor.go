package strand

import (
	"sync"
	"time"

	"github.com/kivay/strand/internal/logutil"
)

// maxPollTimeout caps the readiness wait. It is easier to always sleep a
// bounded time than to branch on an infinite timeout, and waking up once in
// a while does not hurt.
const maxPollTimeout = time.Hour

// Interest selects the descriptor readiness to wait for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

type fileWait struct {
	read  *Deferred[Interest]
	write *Deferred[Interest]
}

func (fw *fileWait) mask() Interest {
	var m Interest
	if fw.read != nil {
		m |= Readable
	}
	if fw.write != nil {
		m |= Writable
	}
	return m
}

// A Reactor is a timer and I/O readiness execution loop. It multiplexes
// pending timers and registered descriptors into Outcome deliveries that
// resume suspended [Deferred] consumers, in particular coroutines created
// with [Go].
//
// A Reactor is an explicit context object: create as many independent ones
// as needed (one per test, for instance). All continuations driven by one
// Reactor execute on a single logical thread; the only methods safe to call
// from other goroutines are [Reactor.Submit] and [Reactor.Stop].
type Reactor struct {
	mu      sync.Mutex
	timers  orderedqueue[*Timer]
	seq     uint64
	files   map[int]*fileWait
	submits []func()
	holds   int
	poller  *poller
	running bool
	stopped bool
	closed  bool
	log     *logutil.Logger
}

// NewReactor returns a reactor ready to accept timers, waits and
// submissions. The loop itself runs only inside [Reactor.Run].
func NewReactor() *Reactor {
	return &Reactor{
		files: make(map[int]*fileWait),
		log:   logutil.New(0),
	}
}

// SetLogger replaces the reactor's logger (default: quiet).
func (r *Reactor) SetLogger(l *logutil.Logger) {
	if l != nil {
		r.log = l
	}
}

// Submit schedules fn to run on the reactor's logical thread during the next
// loop iteration. Submit is safe to call from any goroutine; it is the only
// way for outside threads to inject work, mirroring how producers off the
// logical thread must settle Deferreds.
func (r *Reactor) Submit(fn func()) {
	r.mu.Lock()
	r.submits = append(r.submits, fn)
	p := r.poller
	r.mu.Unlock()
	if p != nil {
		p.wake()
	}
}

// Hold marks pending external work so Run does not return while a
// collaborator (such as a transport pump) can still produce continuations.
// Every Hold must be paired with a [Reactor.Release].
func (r *Reactor) Hold() {
	r.mu.Lock()
	r.holds++
	r.mu.Unlock()
}

// Release undoes one [Reactor.Hold].
func (r *Reactor) Release() {
	r.mu.Lock()
	if r.holds == 0 {
		r.mu.Unlock()
		panic("strand: release without hold")
	}
	r.holds--
	p := r.poller
	r.mu.Unlock()
	if p != nil {
		p.wake()
	}
}

// Run executes the loop on the calling goroutine until no pending timers,
// I/O registrations, submitted continuations or holds remain, or until
// [Reactor.Stop] is called. Each iteration drains submissions, fires due
// timers, then blocks in the readiness wait for at most the earliest
// deadline; descriptors reported ready are resolved before elapsed timers.
//
// Run must not be called twice at the same time.
func (r *Reactor) Run() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		panic("strand: reactor is already running")
	}
	if r.closed {
		r.mu.Unlock()
		return ErrCanceled
	}
	r.running = true
	r.stopped = false
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		closePoller := r.closed && r.poller != nil
		p := r.poller
		if closePoller {
			r.poller = nil
		}
		r.mu.Unlock()
		if closePoller {
			p.close()
		}
	}()

	if err := r.ensurePoller(); err != nil {
		return err
	}

	for {
		r.drain()
		r.fireTimers()

		r.mu.Lock()
		idle := r.timers.Empty() && len(r.files) == 0 &&
			len(r.submits) == 0 && r.holds == 0
		stopped := r.stopped || r.closed
		timeout := r.nextTimeoutLocked(time.Now())
		p := r.poller
		r.mu.Unlock()

		if stopped || idle {
			return nil
		}

		events, err := p.wait(timeout)
		if err != nil {
			r.log.Error("reactor: poll: %v", err)
			return err
		}
		for _, ev := range events {
			r.dispatch(ev)
		}
	}
}

// Stop makes Run return after the current iteration. Pending timers and
// registrations are kept; a subsequent Run picks them up again.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.stopped = true
	p := r.poller
	r.mu.Unlock()
	if p != nil {
		p.wake()
	}
}

// Close stops the loop and fails every pending timer and I/O wait with
// [ErrCanceled]. A closed reactor rejects new timers and waits; Close is
// idempotent.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopped = true
	var canceled []*Timer
	for _, t := range r.timers.Drain() {
		if !t.canceled && !t.fired {
			t.canceled = true
			canceled = append(canceled, t)
		}
	}
	files := r.files
	r.files = make(map[int]*fileWait)
	r.submits = nil
	p := r.poller
	running := r.running
	if !running {
		r.poller = nil
	}
	r.mu.Unlock()

	for _, t := range canceled {
		t.d.Cancel()
	}
	for _, fw := range files {
		if fw.read != nil {
			fw.read.Cancel()
		}
		if fw.write != nil {
			fw.write.Cancel()
		}
	}
	if p != nil {
		if running {
			p.wake() // Run's defer closes the poller.
		} else {
			p.close()
		}
	}
	return nil
}

func (r *Reactor) ensurePoller() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrCanceled
	}
	if r.poller != nil {
		return nil
	}
	p, err := newPoller()
	if err != nil {
		return err
	}
	r.poller = p
	return nil
}

// drain runs submitted continuations until none remain; continuations may
// submit more.
func (r *Reactor) drain() {
	for {
		r.mu.Lock()
		if len(r.submits) == 0 {
			r.mu.Unlock()
			return
		}
		fns := r.submits
		r.submits = nil
		r.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}
}

func (r *Reactor) fireTimers() {
	now := time.Now()
	for {
		t := r.popDue(now)
		if t == nil {
			return
		}
		t.d.Resolve(now)
	}
}

// nextTimeoutLocked computes the wait bound for the coming iteration.
// Caller holds r.mu.
func (r *Reactor) nextTimeoutLocked(now time.Time) time.Duration {
	for !r.timers.Empty() && r.timers.Head().canceled {
		r.timers.Pop()
	}
	if r.timers.Empty() {
		return maxPollTimeout
	}
	d := r.timers.Head().when.Sub(now)
	if d < 0 {
		return 0
	}
	if d > maxPollTimeout {
		return maxPollTimeout
	}
	return d
}

// Wait returns a Deferred resolved with the ready interest once fd becomes
// ready for interest. The interest must be exactly [Readable] or [Writable];
// anything else fails with [ErrInvalidInterest]. A descriptor may have at
// most one outstanding waiter per interest; a second wait fails immediately
// with [ErrInterestBusy]. The registration is removed when readiness is
// delivered.
func (r *Reactor) Wait(fd int, interest Interest) *Deferred[Interest] {
	d := NewDeferred[Interest]()
	if interest != Readable && interest != Writable {
		d.Reject(ErrInvalidInterest)
		return d
	}
	if err := r.ensurePoller(); err != nil {
		d.Reject(err)
		return d
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		d.Reject(ErrCanceled)
		return d
	}
	fw := r.files[fd]
	if fw == nil {
		fw = &fileWait{}
		r.files[fd] = fw
	}
	slot := &fw.read
	if interest == Writable {
		slot = &fw.write
	}
	if *slot != nil {
		r.mu.Unlock()
		d.Reject(ErrInterestBusy)
		return d
	}
	*slot = d
	err := r.poller.arm(fd, fw.mask())
	if err != nil {
		*slot = nil
		if fw.mask() == 0 {
			delete(r.files, fd)
		}
		r.mu.Unlock()
		d.Reject(err)
		return d
	}
	p := r.poller
	r.mu.Unlock()
	p.wake()
	return d
}

// Detach cancels any pending waits on fd with [ErrCanceled] and forgets the
// descriptor. Call before closing an fd that may still be registered.
func (r *Reactor) Detach(fd int) {
	r.mu.Lock()
	fw := r.files[fd]
	delete(r.files, fd)
	if fw != nil && r.poller != nil {
		r.poller.disarm(fd)
	}
	r.mu.Unlock()
	if fw == nil {
		return
	}
	if fw.read != nil {
		fw.read.Cancel()
	}
	if fw.write != nil {
		fw.write.Cancel()
	}
}

func (r *Reactor) dispatch(ev pollEvent) {
	r.mu.Lock()
	fw := r.files[ev.fd]
	if fw == nil {
		r.mu.Unlock()
		return
	}
	var rd, wr *Deferred[Interest]
	if ev.ready&Readable != 0 {
		rd, fw.read = fw.read, nil
	}
	if ev.ready&Writable != 0 {
		wr, fw.write = fw.write, nil
	}
	if fw.mask() == 0 {
		delete(r.files, ev.fd)
		r.poller.disarm(ev.fd)
	} else {
		r.poller.arm(ev.fd, fw.mask())
	}
	r.mu.Unlock()

	if rd != nil {
		rd.Resolve(Readable)
	}
	if wr != nil {
		wr.Resolve(Writable)
	}
}
