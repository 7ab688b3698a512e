// Package httpapi implements the HTTP Endpoint Surface (C7, spec §4.7):
// the six server-side handlers peers and operators call. It is
// deliberately outside the protocol core ("the HTTP server framing
// (routing, JSON encoding, status codes) ... the spec states only the
// interface the core consumes or exposes") and is grounded on the
// teacher's own route-based server, api/api.go, generalized from Prometheus
// label matching to this grid's six fixed routes.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/model"
	"github.com/prometheus/common/route"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

// Clock is the subset of quartz.Clock the handlers need for "now".
type Clock interface {
	Now() time.Time
}

// API holds everything the handlers need to serve requests. It takes the
// shared Store by reference rather than as a singleton, per spec §9
// ("prefer passing it in as a constructor argument ... to keep tests able
// to spin multiple logical nodes in one process").
type API struct {
	store   *gridstate.Store
	clock   Clock
	secret  string
	self    string
	version string
	logger  *slog.Logger
}

// New builds an API bound to store.
func New(store *gridstate.Store, clk Clock, secret, self, version string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{store: store, clock: clk, secret: secret, self: self, version: version, logger: logger}
}

// Handler builds the complete, routed, instrumented http.Handler for this
// API: request-ID tagging (google/uuid, per spec §9's HTTP-layer
// correlation, not wire identity) wrapped in an OpenTelemetry span per
// request (grounded on the teacher's tracing/ package, itself unwired here
// since this module's tracing need is shallow — see DESIGN.md).
func (a *API) Handler() http.Handler {
	r := route.New().WithInstrumentation(a.instrument)

	r.Get("/", a.handleStatus)
	r.Get("/obituary/:secret", a.handleObituary)
	r.Post("/silence-broadcast/:secret", a.handleSilenceBroadcast)
	r.Get("/silence/:secret/:time", a.handleCreateSilence)
	r.Get("/silence/:secret/:time/:target", a.handleCreateSilence)
	r.Get("/grid/:secret", a.handleGrid)

	return otelhttp.NewHandler(withRequestID(r), "freecaster-grid")
}

func (a *API) instrument(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handler(w, r)
		a.logger.Debug("handled request", "handler", handlerName, "request_id", r.Context().Value(requestIDKey{}), "duration", time.Since(start))
	}
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

// checkSecret compares the path secret against the configured one in
// constant time and writes 406 on mismatch (spec §4.7 "Mismatched secret
// returns 406 (Not Acceptable) ... to distinguish 'you guessed wrong' from
// 'not found'"). It returns false when the request should stop.
func (a *API) checkSecret(w http.ResponseWriter, r *http.Request) bool {
	got := route.Param(r.Context(), "secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.secret)) != 1 {
		http.Error(w, "not acceptable", http.StatusNotAcceptable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleStatus answers GET / (spec §4.7 row 1): no secret required.
func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, wire.StatusResponse{Version: a.version, Name: a.self})
}

// handleObituary answers GET /obituary/{secret} (spec §4.7 row 2).
func (a *API) handleObituary(w http.ResponseWriter, r *http.Request) {
	if !a.checkSecret(w, r) {
		return
	}
	entries := a.store.ObituaryEntries()
	resp := wire.ObituaryResponse{DeadNodes: make([]wire.ObituaryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.DeadNodes = append(resp.DeadNodes, wire.ObituaryEntry{Name: e.Name, Roll: *e.Roll})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSilenceBroadcast answers POST /silence-broadcast/{secret} (spec
// §4.7 row 3): idempotent by id, always 204 once the secret checks out and
// the body decodes, per spec §4.5 step 3's gossip contract (the sender
// only needs one peer to answer 2xx).
func (a *API) handleSilenceBroadcast(w http.ResponseWriter, r *http.Request) {
	if !a.checkSecret(w, r) {
		return
	}
	var body wire.SilenceBroadcast
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	a.store.ReceiveBroadcast(gridstate.NodeSilence{
		ID:          body.ID,
		NodeName:    body.NodeName,
		SilentUntil: body.SilentUntil,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateSilence answers GET /silence/{secret}/{time}[/{target}]
// (spec §4.7 row 4).
func (a *API) handleCreateSilence(w http.ResponseWriter, r *http.Request) {
	if !a.checkSecret(w, r) {
		return
	}
	target := route.Param(r.Context(), "target")
	if target == "" {
		target = a.self
	}

	until, err := parseSilenceTime(route.Param(r.Context(), "time"), a.clock.Now())
	if err != nil {
		http.Error(w, "malformed time", http.StatusBadRequest)
		return
	}

	sil, err := a.store.CreateSilence(target, until)
	if err != nil {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wire.SilenceCreated{Name: sil.NodeName, SilentUntil: sil.SilentUntil})
}

// parseSilenceTime implements spec §4.7's grammar: an integer is an
// absolute Unix-seconds timestamp; anything else is a human duration
// string (e.g. "1h30m") added to now and truncated to seconds (spec §4.7
// row 4, §8 "Malformed silence time ... neither integer nor duration").
func parseSilenceTime(raw string, now time.Time) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	d, err := model.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(time.Duration(d)).Truncate(time.Second), nil
}

// handleGrid answers GET /grid/{secret} (spec §4.7 row 5): self is always
// reported Alive alongside every tracked peer, sorted by name, plus totals.
func (a *API) handleGrid(w http.ResponseWriter, r *http.Request) {
	if !a.checkSecret(w, r) {
		return
	}
	peers := a.store.Snapshot()

	resp := wire.GridSnapshot{
		Nodes: make([]wire.GridNode, 0, len(peers)+1),
	}
	insertSelf := true
	for _, n := range peers {
		if insertSelf && n.Name > a.self {
			resp.Nodes = append(resp.Nodes, selfNode(a.self))
			resp.Alive++
			insertSelf = false
		}
		resp.Nodes = append(resp.Nodes, wire.GridNode{
			Name:      n.Name,
			Status:    n.Status.String(),
			FailCount: n.FailCount,
			Announced: n.Announced,
		})
		tallyStatus(&resp, n.Status)
	}
	if insertSelf {
		resp.Nodes = append(resp.Nodes, selfNode(a.self))
		resp.Alive++
	}
	resp.Total = len(resp.Nodes)

	writeJSON(w, http.StatusOK, resp)
}

func selfNode(self string) wire.GridNode {
	return wire.GridNode{Name: self, Status: gridstate.StatusAlive.String()}
}

func tallyStatus(resp *wire.GridSnapshot, st gridstate.Status) {
	switch st {
	case gridstate.StatusAlive:
		resp.Alive++
	case gridstate.StatusDying:
		resp.Dying++
	case gridstate.StatusDead:
		resp.Dead++
	}
}
