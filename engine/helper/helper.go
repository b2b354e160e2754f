// Package helper runs the distributed Evaluation Engine's worker side
// (spec.md §4.H "Distributed mode"): a small websocket server that
// accepts engine.Request messages and scores them with a local,
// single-worker engine.LocalEngine, exactly the same evaluateOne logic
// the master falls back to itself. Grounded on the upgrade/serve pattern
// of server/server.go, simplified from that file's push-updates loop to
// a plain request/response protocol since a helper never originates
// data on its own.
package helper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"playfun/emulator"
	"playfun/engine"
	"playfun/objective"
)

const (
	writeWait      = 5 * time.Second
	readWait       = 30 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
}

// Server evaluates engine.Request messages using a dedicated emulator
// factory, one fresh emulator.Emulator per request (never shared
// across concurrent connections, mirroring LocalEngine's per-worker
// isolation).
type Server struct {
	Addr       string
	Factory    emulator.Factory
	Objectives *objective.Evaluator
}

// Router builds the gorilla/mux route table for this helper: a single
// /evaluate upgrade endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/evaluate", s.serveEvaluate).Methods(http.MethodGet)
	return r
}

// ListenAndServe runs the helper until the process is killed or the
// listener errors. A helper is stateless between connections: crashing
// and restarting it loses nothing the master cares about, since the
// master always falls back to local evaluation on helper failure.
func (s *Server) ListenAndServe() error {
	if err := http.ListenAndServe(s.Addr, s.Router()); err != nil {
		return fmt.Errorf("helper: serve %s: %w", s.Addr, err)
	}
	return nil
}

func (s *Server) serveEvaluate(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("helper: upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	local := engine.NewLocalEngine(s.Factory, s.Objectives, 1)

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return
		}
		var req engine.Request
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("helper: read failed: %v", err)
			}
			return
		}

		resp, err := s.evaluate(local, req)
		if err != nil {
			glog.Warningf("helper: evaluate failed: %v", err)
			return
		}

		if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := ws.WriteJSON(resp); err != nil {
			glog.Warningf("helper: write failed: %v", err)
			return
		}
	}
}

func (s *Server) evaluate(local *engine.LocalEngine, req engine.Request) (engine.Response, error) {
	results, err := local.Evaluate(
		context.Background(),
		req.CurrentState,
		req.PreMemory,
		[]engine.Next{req.Next},
		req.Futures,
	)
	if err != nil {
		return engine.Response{}, err
	}
	if len(results) != 1 {
		return engine.Response{}, fmt.Errorf("helper: expected exactly one result, got %d", len(results))
	}

	res := results[0]
	return engine.Response{
		Immediate: res.Immediate,
		PerFuture: res.FutureTotals,
	}, nil
}
