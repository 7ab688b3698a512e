package peerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

func TestProbe_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("User-Agent"), "freecaster-grid/")
		_ = json.NewEncoder(w).Encode(wire.StatusResponse{Version: "1.0", Name: "A"})
	}))
	defer srv.Close()

	c, err := New("C", "1.0", TLSOptions{})
	require.NoError(t, err)

	up, resp, err := c.Probe(context.Background(), gridstate.Node{Name: "A", Address: srv.URL})
	require.NoError(t, err)
	require.True(t, up)
	require.Equal(t, "A", resp.Name)
}

func TestProbe_UpButWeird(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c, err := New("C", "1.0", TLSOptions{})
	require.NoError(t, err)

	up, resp, err := c.Probe(context.Background(), gridstate.Node{Name: "A", Address: srv.URL})
	require.NoError(t, err)
	require.True(t, up, "spec §7: schema violation is treated as success")
	require.Nil(t, resp)
}

func TestProbe_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New("C", "1.0", TLSOptions{})
	require.NoError(t, err)

	up, _, err := c.Probe(context.Background(), gridstate.Node{Name: "A", Address: srv.URL})
	require.Error(t, err)
	require.False(t, up)
}

func TestBroadcastSilence_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body wire.SilenceBroadcast
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, uint64(7), body.ID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New("C", "1.0", TLSOptions{})
	require.NoError(t, err)

	accepted, err := c.BroadcastSilence(context.Background(), gridstate.Node{Name: "B", Address: srv.URL}, "secret", wire.SilenceBroadcast{ID: 7, NodeName: "A"})
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestProbeGate_Only204Counts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New("C", "1.0", TLSOptions{})
	require.NoError(t, err)
	require.False(t, c.ProbeGate(context.Background(), srv.URL))
}
