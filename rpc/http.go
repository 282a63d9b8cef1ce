package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/model"
)

// Transport is the RpcTransport: a chi router serving one
// method-dispatched request/response endpoint and one websocket endpoint
// for the per-connection event stream, both driven entirely through
// *engine.Controller / *engine.DebugController. It never retries a
// storage operation itself — every error is relayed verbatim with its
// typed code, per spec.md §4.8.
type Transport struct {
	controller *engine.Controller
	debug      *engine.DebugController
	logger     *logging.Logger
	upgrader   websocket.Upgrader
}

// New builds a Transport. debug may be nil if the process doesn't wire a
// DebugController, in which case debug.* methods return UNSUPPORTED_NODE
// style errors via CodeInternal.
func New(controller *engine.Controller, debug *engine.DebugController, logger *logging.Logger) *Transport {
	return &Transport{
		controller: controller,
		debug:      debug,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The engine is driven by trusted internal clients, not
			// a public browser origin; same-origin checks are the
			// caller's reverse-proxy's job.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi.Router serving the RPC surface and event
// stream. Mount it under whatever prefix the process assembler chooses.
func (t *Transport) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/rpc", t.handleRPC)
	r.Get("/events", t.handleWebsocket)
	return r
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{Error: &ErrorEnvelope{Code: model.CodeValidationError, Message: "malformed request body"}})
		return
	}

	result, err := t.dispatch(r.Context(), req.Method, req.Params)
	if err != nil {
		writeResponse(w, Response{ID: req.ID, Error: errorEnvelope(err)})
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		writeResponse(w, Response{ID: req.ID, Error: &ErrorEnvelope{Code: model.CodeInternal, Message: "failed to marshal result"}})
		return
	}
	writeResponse(w, Response{ID: req.ID, Result: raw})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(http.StatusOK) // the error envelope, not HTTP status, carries the failure
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// dispatch routes one RPC method to the Controller/DebugController and
// returns a JSON-marshalable result, mirroring the command list in
// spec.md §6 and §4.7.
func (t *Transport) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if t.debug == nil && strings.HasPrefix(method, "debug.") {
		return nil, model.NewError(model.CodeInternal, "debug controller not configured")
	}
	switch method {
	case "enqueueRun":
		var p struct {
			FlowID string           `json:"flowId"`
			Args   model.Vars       `json:"args"`
			Debug  model.DebugConfig `json:"debug"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid enqueueRun params")
		}
		runID, err := t.controller.Enqueue(ctx, p.FlowID, p.Args, p.Debug)
		if err != nil {
			return nil, err
		}
		return map[string]any{"runId": runID}, nil

	case "pauseRun":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return nil, t.controller.Pause(ctx, runID)

	case "resumeRun":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return nil, t.controller.Resume(ctx, runID)

	case "cancelRun":
		var p struct {
			RunID  string `json:"runId"`
			Reason string `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid cancelRun params")
		}
		return nil, t.controller.Cancel(ctx, p.RunID)

	case "getRun":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		run, err := t.controller.Get(ctx, runID)
		if err != nil {
			return nil, err
		}
		return run, nil

	case "listRuns":
		var p struct {
			FlowID string `json:"flowId,omitempty"`
		}
		_ = json.Unmarshal(params, &p)
		return t.controller.ListRuns(ctx, p.FlowID)

	case "getEvents":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return t.controller.History(ctx, runID)

	case "listQueue":
		return t.controller.ListQueue(ctx)

	case "debug.attach":
		var p struct {
			RunID   string   `json:"runId"`
			NodeIDs []string `json:"nodeIds"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.attach params")
		}
		t.debug.Attach(p.RunID, p.NodeIDs)
		return nil, nil

	case "debug.detach":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		t.debug.Detach(runID)
		return nil, nil

	case "debug.getState":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return t.debug.GetState(runID), nil

	case "debug.setBreakpoints":
		var p struct {
			RunID   string   `json:"runId"`
			NodeIDs []string `json:"nodeIds"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.setBreakpoints params")
		}
		t.debug.SetBreakpoints(p.RunID, p.NodeIDs)
		return nil, nil

	case "debug.addBreakpoint":
		var p struct{ RunID, NodeID string }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.addBreakpoint params")
		}
		t.debug.AddBreakpoint(p.RunID, p.NodeID)
		return nil, nil

	case "debug.removeBreakpoint":
		var p struct{ RunID, NodeID string }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.removeBreakpoint params")
		}
		t.debug.RemoveBreakpoint(p.RunID, p.NodeID)
		return nil, nil

	case "debug.getVar":
		var p struct{ RunID, Name string }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.getVar params")
		}
		return t.debug.GetVar(ctx, p.RunID, p.Name)

	case "debug.setVar":
		var p struct {
			RunID string `json:"runId"`
			Name  string `json:"name"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, model.NewError(model.CodeValidationError, "invalid debug.setVar params")
		}
		return nil, t.debug.SetVar(ctx, p.RunID, p.Name, p.Value)

	case "debug.step":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return nil, t.debug.Step(ctx, runID)

	case "debug.continue":
		runID, err := paramRunID(params)
		if err != nil {
			return nil, err
		}
		return nil, t.debug.Continue(ctx, runID)

	default:
		return nil, model.NewError(model.CodeValidationError, "unknown RPC method: "+method)
	}
}

func paramRunID(params json.RawMessage) (string, error) {
	var p struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.RunID == "" {
		return "", model.NewError(model.CodeValidationError, "runId is required")
	}
	return p.RunID, nil
}

// handleWebsocket upgrades the connection and relays events matching the
// connection's current filter (set by an initial {runId?} subscribe
// message, or unfiltered if none arrives). One goroutine reads
// subscribe messages; the bus callback writes event envelopes, guarded
// by writeMu so the two never interleave a partial frame.
func (t *Transport) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.WithField("error", err).Warn("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	var writeMu sync.Mutex
	unsubscribe := t.controller.Subscribe(emit.Filter{}, func(event emit.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = conn.WriteJSON(EventEnvelope{Type: "event", Event: event})
	})
	defer func() { unsubscribe() }()

	for {
		var sub struct {
			Type  string `json:"type"`
			RunID string `json:"runId,omitempty"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Type == "subscribe" {
			unsubscribe()
			unsubscribe = t.controller.Subscribe(emit.Filter{RunID: sub.RunID}, func(event emit.Event) {
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = conn.WriteJSON(EventEnvelope{Type: "event", Event: event})
			})
		}
	}
}
