package poller

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/dewyer/freecaster-grid/internal/announce"
	"github.com/dewyer/freecaster-grid/internal/gridstate"
	"github.com/dewyer/freecaster-grid/internal/wire"
)

type fakeClient struct {
	gateOK     bool
	up         map[string]bool
	obituaries map[string]*wire.ObituaryResponse
	obitErr    map[string]error
	acceptAll  bool
	broadcasts []wire.SilenceBroadcast
}

func (f *fakeClient) Probe(_ context.Context, node gridstate.Node) (bool, *wire.StatusResponse, error) {
	return f.up[node.Name], nil, nil
}

func (f *fakeClient) Obituary(_ context.Context, node gridstate.Node, _ string) (*wire.ObituaryResponse, error) {
	if err, ok := f.obitErr[node.Name]; ok {
		return nil, err
	}
	return f.obituaries[node.Name], nil
}

func (f *fakeClient) BroadcastSilence(_ context.Context, _ gridstate.Node, _ string, rec wire.SilenceBroadcast) (bool, error) {
	f.broadcasts = append(f.broadcasts, rec)
	return f.acceptAll, nil
}

func (f *fakeClient) ProbeGate(_ context.Context, _ string) bool {
	return f.gateOK
}

type fakeAnnouncer struct {
	events []announce.Event
}

func (f *fakeAnnouncer) Announce(_ context.Context, ev announce.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func newTestPoller(t *testing.T, client *fakeClient, ann *fakeAnnouncer, selfRoll uint64) (*Poller, *gridstate.Store) {
	t.Helper()
	clk := quartz.NewMock(t)
	peers := []gridstate.Node{{Name: "A", Address: "https://a"}, {Name: "B", Address: "https://b"}}
	store := gridstate.New("C", peers, clk, &gridstate.SeededRoller{Values: []uint64{selfRoll}})
	p := New(Config{
		Store:           store,
		Client:          client,
		Announcer:       ann,
		Peers:           peers,
		Self:            "C",
		Secret:          "s3cr3t",
		InternetGateURL: "http://gate.example",
		Clock:           clk,
	})
	return p, store
}

func TestRunCycle_InternetGateFailure_SkipsEntireCycle(t *testing.T) {
	client := &fakeClient{gateOK: false, up: map[string]bool{"A": false, "B": true}}
	ann := &fakeAnnouncer{}
	p, store := newTestPoller(t, client, ann, 100)

	p.RunCycle(context.Background())

	total := 0
	for _, n := range store.Snapshot() {
		total += n.FailCount
	}
	require.Equal(t, 0, total)
	require.Empty(t, ann.events)
}

func TestRunCycle_DeathAnnouncedWhenSelfRollHigher(t *testing.T) {
	client := &fakeClient{
		gateOK: true,
		up:     map[string]bool{"A": false, "B": true},
		obituaries: map[string]*wire.ObituaryResponse{
			"B": {DeadNodes: []wire.ObituaryEntry{{Name: "A", Roll: 50}}},
		},
	}
	ann := &fakeAnnouncer{}
	p, _ := newTestPoller(t, client, ann, 999) // self roll > peer roll 50

	for i := 0; i < 3; i++ {
		p.RunCycle(context.Background())
	}

	require.Len(t, ann.events, 1)
	require.Equal(t, announce.Death, ann.events[0].Kind)
	require.Equal(t, "A", ann.events[0].Target)
	require.Equal(t, "C", ann.events[0].Me)
}

func TestRunCycle_NoAnnouncementWhenSelfRollLower(t *testing.T) {
	client := &fakeClient{
		gateOK: true,
		up:     map[string]bool{"A": false, "B": true},
		obituaries: map[string]*wire.ObituaryResponse{
			"B": {DeadNodes: []wire.ObituaryEntry{{Name: "A", Roll: 999999}}},
		},
	}
	ann := &fakeAnnouncer{}
	p, _ := newTestPoller(t, client, ann, 1) // self roll lower than peer's 999999

	for i := 0; i < 3; i++ {
		p.RunCycle(context.Background())
	}

	require.Empty(t, ann.events)
}

func TestRunCycle_RecoveryAnnouncedForOwnedDeath(t *testing.T) {
	client := &fakeClient{
		gateOK: true,
		up:     map[string]bool{"A": false, "B": true},
		obituaries: map[string]*wire.ObituaryResponse{
			"B": {DeadNodes: []wire.ObituaryEntry{{Name: "A", Roll: 1}}},
		},
	}
	ann := &fakeAnnouncer{}
	p, _ := newTestPoller(t, client, ann, 999)

	for i := 0; i < 3; i++ {
		p.RunCycle(context.Background())
	}
	require.Len(t, ann.events, 1)

	client.up["A"] = true
	p.RunCycle(context.Background())

	require.Len(t, ann.events, 2)
	require.Equal(t, announce.Recovery, ann.events[1].Kind)
	require.Equal(t, "A", ann.events[1].Target)
}

func TestRunCycle_SilencedPeerNeverProbed(t *testing.T) {
	client := &fakeClient{gateOK: true, up: map[string]bool{"A": false, "B": true}, acceptAll: true}
	ann := &fakeAnnouncer{}
	p, store := newTestPoller(t, client, ann, 1)

	_, err := store.CreateSilence("A", time.Now().Add(time.Hour))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.RunCycle(context.Background())
	}

	snap := store.Snapshot()
	for _, n := range snap {
		if n.Name == "A" {
			require.Equal(t, 0, n.FailCount)
		}
	}
}

func TestRunCycle_GossipsPendingSilenceUntilAccepted(t *testing.T) {
	client := &fakeClient{gateOK: true, up: map[string]bool{"A": true, "B": true}, acceptAll: true}
	ann := &fakeAnnouncer{}
	p, store := newTestPoller(t, client, ann, 1)

	sil, err := store.CreateSilence("A", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.False(t, sil.Broadcasted)

	p.RunCycle(context.Background())

	require.NotEmpty(t, client.broadcasts)
	require.Empty(t, store.PendingBroadcasts())
}
