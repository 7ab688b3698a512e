package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

func newTestAPI(t *testing.T) (*API, *gridstate.Store, fakeClock) {
	t.Helper()
	clk := fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := gridstate.New("C", []gridstate.Node{{Name: "A"}, {Name: "B"}}, clk, gridstate.NewSystemRoller())
	api := New(store, clk, "s3cr3t", "C", "test-version", nil)
	return api, store, clk
}

func TestHandleStatus_NoSecretRequired(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body wire.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "C", body.Name)
}

func TestSecretMismatch_Returns406(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/grid/wrong-secret", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestHandleGrid_IncludesSelfAlive(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/grid/s3cr3t", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var snap wire.GridSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 3, snap.Total)
	require.Equal(t, 3, snap.Alive)

	names := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		names[i] = n.Name
	}
	require.Equal(t, []string{"A", "B", "C"}, names)
}

func TestHandleObituary_OnlyDyingOrDead(t *testing.T) {
	api, store, clk := newTestAPI(t)
	for i := 0; i < 3; i++ {
		store.RecordProbe("A", false, clk.now)
	}
	req := httptest.NewRequest(http.MethodGet, "/obituary/s3cr3t", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	var body wire.ObituaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.DeadNodes, 1)
	require.Equal(t, "A", body.DeadNodes[0].Name)
}

func TestHandleSilenceBroadcast_IdempotentAndNoContent(t *testing.T) {
	api, store, clk := newTestAPI(t)
	payload, _ := json.Marshal(wire.SilenceBroadcast{ID: 42, NodeName: "A", SilentUntil: clk.now.Add(time.Hour)})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/silence-broadcast/s3cr3t", bytes.NewReader(payload))
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	require.True(t, store.IsSilenced("A", clk.now))
}

func TestHandleCreateSilence_DefaultsToSelfWithIntegerSeconds(t *testing.T) {
	api, _, clk := newTestAPI(t)
	until := clk.now.Add(2 * time.Hour).Unix()
	req := httptest.NewRequest(http.MethodGet, "/silence/s3cr3t/"+strconv.FormatInt(until, 10), nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body wire.SilenceCreated
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "C", body.Name)
}

func TestHandleCreateSilence_DurationStringWithTarget(t *testing.T) {
	api, store, clk := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/silence/s3cr3t/1h/A", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, store.IsSilenced("A", clk.now.Add(59*time.Minute)))
}

func TestHandleCreateSilence_UnknownTargetIs404(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/silence/s3cr3t/1h/nobody", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateSilence_MalformedTimeIs400(t *testing.T) {
	api, _, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/silence/s3cr3t/not-a-time", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
