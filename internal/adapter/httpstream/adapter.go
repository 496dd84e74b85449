// Package httpstream implements the C5 HTTP streaming adapter: a
// single POST endpoint that holds its response open and streams
// newline-delimited JSON result fragments back to the caller until
// the simulation terminates (spec.md §4.5).
//
// Routing uses gorilla/mux, the router the teacher reaches for in its
// own HTTP-facing services (services/clientapi, services/queryapi).
// The per-client fragment table is the "shared mutable adapter
// registry → owned map behind a single lock" design note from
// spec.md §9; the handoff between the bridge core's goroutine and the
// response-writing goroutine is the "callbacks & signals → channels"
// note from the same section.
package httpstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/intocps-association/simulation-bridge/internal/adapter"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/logger"
	"github.com/intocps-association/simulation-bridge/internal/protocol"
)

const (
	idleTimeout   = 600 * time.Second
	fragmentDepth = 64
)

// stream is the per-client request state described in spec.md §3:
// {request_id, response_queue}. response_queue is a bounded,
// overflow-dropping FIFO feeding the open HTTP response body.
type stream struct {
	requestID string
	fragments chan *protocol.Response
	dropped   int
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newStream(requestID string) *stream {
	return &stream{
		requestID: requestID,
		fragments: make(chan *protocol.Response, fragmentDepth),
		done:      make(chan struct{}),
	}
}

// offer is the non-blocking enqueue with drop-oldest-on-overflow
// policy from spec.md §4.5: "producers use a non-blocking offer that
// drops the oldest fragment on overflow... prefer recent fragments for
// live visibility". Older fragments are discarded before the reader
// ever sees them, so the reader observes a sequence gap, never
// reordering (spec.md §5).
func (s *stream) offer(resp *protocol.Response) {
	for {
		select {
		case s.fragments <- resp:
			return
		default:
		}
		select {
		case <-s.fragments:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *stream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Adapter is the HTTP streaming adapter.
type Adapter struct {
	cfg config.RESTConfig
	log *logger.Logger

	mu      sync.Mutex
	streams map[string]*stream // keyed by client_id

	server *http.Server
}

// New builds an HTTP streaming adapter for cfg.
func New(cfg config.RESTConfig, log *logger.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log, streams: make(map[string]*stream)}
}

// Start registers the input endpoint and begins serving. It returns
// once the listener is up; Signals are emitted asynchronously as
// requests arrive.
func (a *Adapter) Start(ctx context.Context) (<-chan adapter.Signal, error) {
	out := make(chan adapter.Signal, 16)

	router := mux.NewRouter()
	router.HandleFunc(a.cfg.InputEndpoint, func(w http.ResponseWriter, r *http.Request) {
		a.handleRequest(w, r, out)
	}).Methods(http.MethodPost)

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	a.server = &http.Server{Addr: addr, Handler: router}

	ln, err := newListener(addr)
	if err != nil {
		return nil, fmt.Errorf("http adapter: listen: %w", err)
	}

	go func() {
		var serveErr error
		if a.cfg.TLSEnabled() {
			serveErr = a.server.ServeTLS(ln, a.cfg.CertFile, a.cfg.KeyFile)
		} else {
			serveErr = a.server.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed && a.log != nil {
			a.log.Errorf("http adapter: serve: %v", serveErr)
		}
	}()

	return out, nil
}

func (a *Adapter) handleRequest(w http.ResponseWriter, r *http.Request, out chan<- adapter.Signal) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, protocol.KindValidation, "could not read request body")
		return
	}

	req, err := protocol.Decode(body)
	if err != nil {
		kind := protocol.KindYAMLParse
		if err == protocol.ErrNotAnObject {
			kind = protocol.KindValidation
		}
		writeBadRequest(w, kind, err.Error())
		return
	}

	req.SetProtocol("http")
	clientID := req.Simulation.ClientID

	st := newStream(req.Simulation.RequestID)

	a.mu.Lock()
	a.streams[clientID] = st // at most one live stream per client_id, spec.md §4.5
	a.mu.Unlock()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	writeFrame(w, flusher, map[string]any{"status": "processing"})

	out <- adapter.Signal{Class: "http", Kind: "input", Request: req}

	a.responseLoop(w, flusher, r.Context(), clientID, st)
}

func (a *Adapter) responseLoop(w http.ResponseWriter, flusher http.Flusher, ctx context.Context, clientID string, st *stream) {
	defer a.detach(clientID, st)

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.done:
			return
		case <-timer.C:
			writeFrame(w, flusher, map[string]any{"status": "timeout"})
			return
		case resp := <-st.fragments:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleTimeout)

			if err := writeResponse(w, flusher, resp); err != nil {
				return
			}
			if resp.Terminal() {
				return
			}
		}
	}
}

func (a *Adapter) detach(clientID string, st *stream) {
	a.mu.Lock()
	if current, ok := a.streams[clientID]; ok && current == st {
		delete(a.streams, clientID)
	}
	a.mu.Unlock()
}

// Deliver enqueues resp onto the named client's fragment queue if one
// is still registered, returning whether a listener was present
// (spec.md §4.2, §4.5).
func (a *Adapter) Deliver(clientID string, resp *protocol.Response) bool {
	a.mu.Lock()
	st, ok := a.streams[clientID]
	a.mu.Unlock()
	if !ok {
		return false
	}

	st.offer(resp)
	if resp.Terminal() {
		st.close()
	}
	return true
}

// Stop gracefully shuts the HTTP server down.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func writeBadRequest(w http.ResponseWriter, kind protocol.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	body, _ := protocol.EncodeJSON(&protocol.Response{
		Status: protocol.StatusError,
		Error:  &protocol.ErrorDetail{Message: message, Type: string(kind), Code: http.StatusBadRequest},
	})
	w.Write(body)
}

func writeResponse(w http.ResponseWriter, flusher http.Flusher, resp *protocol.Response) error {
	body, err := protocol.EncodeJSON(resp)
	if err != nil {
		return err
	}
	return writeLine(w, flusher, body)
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, v map[string]any) error {
	body, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	return writeLine(w, flusher, body)
}

func writeLine(w http.ResponseWriter, flusher http.Flusher, body []byte) error {
	if _, err := w.Write(append(body, '\n')); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
