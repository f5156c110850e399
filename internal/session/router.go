package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/NiccoloSalvini/directa-api-go/internal/observ"
	"github.com/NiccoloSalvini/directa-api-go/internal/wire"
)

// Router correlates inbound records with outstanding calls. The protocol has
// no correlation identifiers, so correlation is by record kind: at most one
// call may wait on any given kind, later callers naming that kind queue
// behind it. Records that no call is waiting for fan out to subscribers.
type Router struct {
	mu       sync.Mutex
	waiters  map[wire.Kind]*pendingCall
	lists    map[string]*pendingCall
	inflight []*pendingCall
	slots    map[string]chan struct{}
	subs     map[wire.Kind]map[int]func(wire.Record)
	nextSub  int
}

func NewRouter() *Router {
	return &Router{
		waiters: make(map[wire.Kind]*pendingCall),
		lists:   make(map[string]*pendingCall),
		slots:   make(map[string]chan struct{}),
		subs:    make(map[wire.Kind]map[int]func(wire.Record)),
	}
}

type callOutcome struct {
	recs []wire.Record
	err  error
}

type pendingCall struct {
	kinds   []wire.Kind
	list    string // non-empty: collect entries until the END frame
	recs    []wire.Record
	started time.Time
	done    chan callOutcome
}

// resolve hands the outcome to the caller. The done channel has capacity
// one, so a late duplicate resolution is dropped rather than blocking the
// read loop.
func (c *pendingCall) resolve(recs []wire.Record, err error) {
	select {
	case c.done <- callOutcome{recs: recs, err: err}:
	default:
	}
}

// Call sends a command and waits for a single record of one of the given
// kinds. A same-kind call already in flight is resolved first; this caller
// queues until then.
func (r *Router) Call(ctx context.Context, send func() error, kinds ...wire.Kind) (wire.Record, error) {
	recs, err := r.do(ctx, send, "", kinds)
	if err != nil {
		return wire.Record{}, err
	}
	return recs[0], nil
}

// CallList sends a command and collects records of the given entry kinds
// framed by BEGIN/END with the given list name. Benign empty-result ERR
// codes resolve to an empty slice.
func (r *Router) CallList(ctx context.Context, send func() error, list string, kinds ...wire.Kind) ([]wire.Record, error) {
	return r.do(ctx, send, list, kinds)
}

func (r *Router) do(ctx context.Context, send func() error, list string, kinds []wire.Kind) ([]wire.Record, error) {
	if len(kinds) == 0 {
		return nil, errors.New("router: call without kinds")
	}

	release, err := r.acquire(ctx, kinds)
	if err != nil {
		return nil, err
	}
	defer release()

	call := &pendingCall{
		kinds:   kinds,
		list:    list,
		started: time.Now(),
		done:    make(chan callOutcome, 1),
	}

	r.mu.Lock()
	for _, k := range kinds {
		r.waiters[k] = call
	}
	if list != "" {
		r.lists[list] = call
	}
	r.inflight = append(r.inflight, call)
	r.mu.Unlock()
	defer r.remove(call)

	if err := send(); err != nil {
		return nil, err
	}

	select {
	case out := <-call.done:
		observ.Observe("session_call_ms", float64(time.Since(call.started).Milliseconds()),
			map[string]string{"kind": string(kinds[0])})
		return out.recs, out.err
	case <-ctx.Done():
		observ.IncCounter("session_call_timeouts_total", map[string]string{"kind": string(kinds[0])})
		return nil, callWaitErr(ctx, kinds[0], call.started)
	}
}

func callWaitErr(ctx context.Context, kind wire.Kind, started time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallTimeoutError{Kind: kind, Wait: time.Since(started)}
	}
	return ctx.Err()
}

// acquire takes the queue slot for every kind in the group, one slot per
// kind so calls on overlapping groups serialize too. Slots are taken in
// sorted order, which keeps overlapping acquisitions deadlock-free.
func (r *Router) acquire(ctx context.Context, kinds []wire.Kind) (func(), error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)

	start := time.Now()
	held := make([]chan struct{}, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	prev := ""
	for _, name := range names {
		if name == prev {
			continue
		}
		prev = name
		r.mu.Lock()
		sem, ok := r.slots[name]
		if !ok {
			sem = make(chan struct{}, 1)
			r.slots[name] = sem
		}
		r.mu.Unlock()
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-ctx.Done():
			release()
			return nil, callWaitErr(ctx, kinds[0], start)
		}
	}
	return release, nil
}

func (r *Router) remove(call *pendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(call)
}

func (r *Router) removeLocked(call *pendingCall) {
	for _, k := range call.kinds {
		if r.waiters[k] == call {
			delete(r.waiters, k)
		}
	}
	if call.list != "" && r.lists[call.list] == call {
		delete(r.lists, call.list)
	}
	for i, c := range r.inflight {
		if c == call {
			r.inflight = append(r.inflight[:i], r.inflight[i+1:]...)
			break
		}
	}
}

// Dispatch routes one decoded record: to the call waiting on its kind, to a
// collecting list call, or out to subscribers. Called from the read loop.
func (r *Router) Dispatch(rec wire.Record) {
	r.mu.Lock()

	switch rec.Kind() {
	case wire.KindBegin:
		// Opening frame; entries follow.
		r.mu.Unlock()
		return

	case wire.KindEnd:
		if call, ok := r.lists[rec.Str("list")]; ok {
			recs := call.recs
			r.removeLocked(call)
			r.mu.Unlock()
			call.resolve(recs, nil)
			return
		}
		r.mu.Unlock()
		return

	case wire.KindErr:
		// No correlation id: an ERR answers the oldest in-flight call.
		code := int(rec.Int("code"))
		if len(r.inflight) > 0 {
			call := r.inflight[0]
			r.removeLocked(call)
			r.mu.Unlock()
			if call.list != "" && wire.EmptyResultCode(code) {
				call.resolve(nil, nil)
			} else {
				call.resolve(nil, &wire.RemoteError{Scope: rec.Str("scope"), Code: code})
			}
			return
		}
		r.mu.Unlock()
		observ.IncCounter("session_stray_errors_total", nil)
		observ.Log("session_stray_error", map[string]any{
			"scope": rec.Str("scope"),
			"code":  code,
		})
		return
	}

	if call, ok := r.waiters[rec.Kind()]; ok {
		if call.list != "" {
			call.recs = append(call.recs, rec)
			r.mu.Unlock()
			return
		}
		r.removeLocked(call)
		r.mu.Unlock()
		call.resolve([]wire.Record{rec}, nil)
		return
	}

	// Unsolicited record: fan out in registration order.
	ids := make([]int, 0, len(r.subs[rec.Kind()]))
	for id := range r.subs[rec.Kind()] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(wire.Record), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[rec.Kind()][id])
	}
	r.mu.Unlock()

	if len(fns) == 0 {
		observ.IncCounter("session_records_dropped_total", map[string]string{"kind": string(rec.Kind())})
		return
	}
	for _, fn := range fns {
		fn(rec)
	}
}

// Subscribe registers fn for unsolicited records of the given kind and
// returns a cancel func. Delivery is synchronous from the read loop, in
// arrival order.
func (r *Router) Subscribe(kind wire.Kind, fn func(wire.Record)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[int]func(wire.Record))
	}
	r.subs[kind][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[kind], id)
	}
}

// Flush fails every pending call with err and clears the pending tables.
// Subscribers survive; they outlive reconnects.
func (r *Router) Flush(err error) {
	r.mu.Lock()
	calls := make(map[*pendingCall]bool)
	for _, c := range r.waiters {
		calls[c] = true
	}
	for _, c := range r.lists {
		calls[c] = true
	}
	for _, c := range r.inflight {
		calls[c] = true
	}
	r.waiters = make(map[wire.Kind]*pendingCall)
	r.lists = make(map[string]*pendingCall)
	r.inflight = nil
	r.mu.Unlock()

	for c := range calls {
		c.resolve(nil, err)
	}
	if len(calls) > 0 {
		observ.Log("session_calls_flushed", map[string]any{
			"count": len(calls),
			"error": err.Error(),
		})
	}
}
