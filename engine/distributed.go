package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"playfun/objective"
)

// Request is the wire message a master sends a helper: the current
// emulator state, a single candidate next, and the futures population to
// score it against (spec.md §6 "Distributed helper protocol").
type Request struct {
	CurrentState []byte   `json:"current_state"`
	PreMemory    []byte   `json:"pre_memory"`
	Next         Next     `json:"next"`
	Futures      []Future `json:"futures"`
}

// Response is a helper's reply: the next's immediate contribution and its
// per-future totals, in future-index order.
type Response struct {
	Immediate float64   `json:"immediate"`
	PerFuture []float64 `json:"per_future"`
}

// distConn serializes request/response pairs over one websocket
// connection to one helper. Only one request may be in flight at a time,
// matching gorilla/websocket's single-reader/single-writer requirement
// (the same constraint server/fastview/client.go's websock wrapper
// enforces with semaphore channels).
type distConn struct {
	addr string
	ws   *websocket.Conn
}

func dialHelper(addr string, dialTimeout time.Duration) (*distConn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/evaluate"}
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("engine: dial helper %s: %w", addr, err)
	}
	return &distConn{addr: addr, ws: ws}, nil
}

func (c *distConn) close() {
	_ = c.ws.Close()
}

// call sends one Request and waits for its Response, bounded by timeout.
// Any error — write failure, timeout, a response that fails to decode —
// is a HelperTimeout/HelperUnavailable condition (spec.md §7): the caller
// recovers by falling back to local evaluation for this next, never
// fatally.
func (c *distConn) call(req Request, timeout time.Duration) (Response, error) {
	if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, err
	}
	if err := c.ws.WriteJSON(req); err != nil {
		return Response{}, fmt.Errorf("%w: write to %s: %v", ErrHelperUnavailable, c.addr, err)
	}

	if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := c.ws.ReadJSON(&resp); err != nil {
		return Response{}, fmt.Errorf("%w: read from %s: %v", ErrHelperTimeout, c.addr, err)
	}
	return resp, nil
}

// DistributedEngine dispatches nexts to a configured list of helper
// addresses, falling back to Fallback (a LocalEngine) for any next a
// helper could not score in time (spec.md §4.H "Distributed mode").
// Correctness never depends on helpers: with zero reachable helpers,
// DistributedEngine degrades to exactly Fallback's behavior.
type DistributedEngine struct {
	HelperAddrs    []string
	Fallback       *LocalEngine
	Objectives     *objective.Evaluator
	RequestTimeout time.Duration
	DialTimeout    time.Duration
}

// ErrHelperUnavailable and ErrHelperTimeout are the recoverable
// conditions of spec.md §7: logged at warning level on each failure, never
// fatal, always resolved by local re-execution.
var (
	ErrHelperUnavailable = fmt.Errorf("engine: helper unavailable")
	ErrHelperTimeout     = fmt.Errorf("engine: helper timed out")
)

// Evaluate distributes nexts round-robin across reachable helpers and
// re-evaluates locally anything a helper failed or timed out on.
func (d *DistributedEngine) Evaluate(
	ctx context.Context,
	currentState []byte,
	preMemory []byte,
	nexts []Next,
	futures []Future,
) ([]Result, error) {
	if len(nexts) == 0 {
		return nil, nil
	}

	conns := d.dialAll()
	defer func() {
		for _, c := range conns {
			c.close()
		}
	}()

	results := make([]Result, len(nexts))
	filled := make([]bool, len(nexts))

	if len(conns) > 0 {
		d.dispatch(conns, currentState, preMemory, nexts, futures, results, filled)
	}

	var localIdx []int
	for i, ok := range filled {
		if !ok {
			localIdx = append(localIdx, i)
		}
	}

	if len(localIdx) == 0 {
		return results, nil
	}

	localNexts := make([]Next, len(localIdx))
	for i, idx := range localIdx {
		localNexts[i] = nexts[idx]
	}
	localResults, err := d.Fallback.Evaluate(ctx, currentState, preMemory, localNexts, futures)
	if err != nil {
		return nil, err
	}
	for i, idx := range localIdx {
		results[idx] = localResults[i]
	}

	return results, nil
}

func (d *DistributedEngine) dialAll() []*distConn {
	var conns []*distConn
	for _, addr := range d.HelperAddrs {
		c, err := dialHelper(addr, d.DialTimeout)
		if err != nil {
			glog.Warningf("%v", err)
			continue
		}
		conns = append(conns, c)
	}
	return conns
}

// dispatch round-robins jobs across conns, one request in flight per
// connection at a time (a connection is a "worker" here, the distributed
// analogue of LocalEngine's per-worker emulator instance). A job whose
// helper call fails or times out is simply left unfilled; the caller
// re-executes it locally. Each connection's read/call loop runs under an
// errgroup.Group, mirroring the concurrent read-pump/write-loop pattern
// server/fastview/client.go builds on errgroup.WithContext in the teacher.
func (d *DistributedEngine) dispatch(
	conns []*distConn,
	currentState []byte,
	preMemory []byte,
	nexts []Next,
	futures []Future,
	results []Result,
	filled []bool,
) {
	type job struct {
		index int
		next  Next
	}

	jobs := make(chan job, len(nexts))
	for i, n := range nexts {
		jobs <- job{index: i, next: n}
	}
	close(jobs)

	type outcome struct {
		index    int
		response Response
		ok       bool
	}
	out := make(chan outcome, len(nexts))

	var g errgroup.Group
	for _, c := range conns {
		c := c
		g.Go(func() error {
			for j := range jobs {
				req := Request{CurrentState: currentState, PreMemory: preMemory, Next: j.next, Futures: futures}
				resp, err := c.call(req, d.RequestTimeout)
				if err != nil {
					glog.Warningf("engine: helper call failed, falling back locally: %v", err)
					out <- outcome{index: j.index, ok: false}
					continue
				}
				out <- outcome{index: j.index, response: resp, ok: true}
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()

	for o := range out {
		if !o.ok {
			continue
		}
		results[o.index] = responseToResult(o.response, len(futures))
		filled[o.index] = true
	}
}

// responseToResult converts a helper Response into a Result, enforcing
// the bounds invariant of spec.md §4.H: "when merging helper responses
// into futuretotals[i], the write index MUST be strictly less than
// futuretotals.len()". A helper that returns more per-future scores than
// there are futures (a buggy or malicious helper) has its extra entries
// silently dropped rather than overrunning the totals slice.
func responseToResult(resp Response, numFutures int) Result {
	totals := make([]float64, numFutures)
	for i, v := range resp.PerFuture {
		if i < len(totals) {
			totals[i] = v
		}
	}
	worst, best := WorstBest(totals)
	return Result{
		Immediate:    resp.Immediate,
		FutureTotals: totals,
		FutSum:       SumFutureTotals(totals),
		WorstFuture:  worst,
		BestFuture:   best,
	}
}
