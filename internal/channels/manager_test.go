package channels

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/ws"
)

const selfID = "1"

func contacts(ids ...string) []model.Contact {
	out := make([]model.Contact, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Contact{ID: id})
	}
	return out
}

func member(id string) model.Team    { return model.Team{ID: id, IsMember: true} }
func nonMember(id string) model.Team { return model.Team{ID: id, IsMember: false} }

func TestReconcileOpensDesiredSet(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)

	closed := m.Reconcile(contacts("2", "3"), []model.Team{member("5"), nonMember("9")}, false)

	require.Empty(t, closed)
	require.Equal(t, []model.ChannelKey{
		model.DMKey("2"), model.DMKey("3"), model.TeamKey("5"),
	}, m.Keys())
	require.True(t, tr.Joined("dm.1.2"))
	require.True(t, tr.Joined("dm.1.3"))
	require.True(t, tr.Joined("team.5"))
	require.False(t, tr.Joined("team.9"), "non-member team stays closed without spy mode")
}

func TestReconcileIsIdempotent(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)
	cs := contacts("2", "3")
	ts := []model.Team{member("5")}

	m.Reconcile(cs, ts, false)
	joins, leaves := tr.JoinCount(), tr.LeaveCount()

	closed := m.Reconcile(cs, ts, false)

	require.Empty(t, closed)
	require.Equal(t, joins, tr.JoinCount(), "unchanged input performs zero opens")
	require.Equal(t, leaves, tr.LeaveCount(), "unchanged input performs zero closes")
}

func TestSpyModeOpensAndClosesExtraTeams(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)
	ts := []model.Team{member("5"), nonMember("9")}

	m.Reconcile(nil, ts, true)
	require.True(t, tr.Joined("team.9"))

	closed := m.Reconcile(nil, ts, false)
	require.Equal(t, []model.ChannelKey{model.TeamKey("9")}, closed)
	require.False(t, tr.Joined("team.9"))
	require.True(t, tr.Joined("team.5"), "real membership survives spy off")
}

func TestRemovedContactIsClosed(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)

	m.Reconcile(contacts("2", "3"), nil, false)
	closed := m.Reconcile(contacts("2"), nil, false)

	require.Equal(t, []model.ChannelKey{model.DMKey("3")}, closed)
	require.False(t, tr.Joined("dm.1.3"))
}

func TestJoinFailureDegradesAndRetries(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)

	tr.FailJoins(errors.New("transport down"))
	m.Reconcile(contacts("2"), []model.Team{member("5")}, false)
	require.Empty(t, m.Keys(), "nothing subscribed while the transport is down")

	// Next pass picks the channels up again.
	tr.FailJoins(nil)
	m.Reconcile(contacts("2"), []model.Team{member("5")}, false)
	require.Len(t, m.Keys(), 2)
}

func TestEventsDispatchThroughHandlerCell(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)

	var got []string
	m.SetHandlers(Handlers{
		OnMessage: func(key model.ChannelKey, payload json.RawMessage) {
			got = append(got, "first:"+key.String())
		},
	})
	m.Reconcile(contacts("2"), nil, false)

	require.NoError(t, tr.Emit("dm.1.2", ws.EventMessageCreated, map[string]string{}))
	require.Equal(t, []string{"first:dm:2"}, got)

	// Swapping handlers never requires re-subscribing.
	m.SetHandlers(Handlers{
		OnMessage: func(key model.ChannelKey, payload json.RawMessage) {
			got = append(got, "second:"+key.String())
		},
	})
	require.NoError(t, tr.Emit("dm.1.2", ws.EventMessageCreated, map[string]string{}))
	require.Equal(t, []string{"first:dm:2", "second:dm:2"}, got)
}

func TestTypingWhisperDispatch(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)

	var keys []model.ChannelKey
	m.SetHandlers(Handlers{
		OnTyping: func(key model.ChannelKey, payload json.RawMessage) {
			keys = append(keys, key)
		},
	})
	m.Reconcile(nil, []model.Team{member("5")}, false)

	require.NoError(t, tr.EmitWhisper("team.5", ws.EventTyping, ws.TypingSignal{UserID: "2", Typing: true}))
	require.Equal(t, []model.ChannelKey{model.TeamKey("5")}, keys)
}

func TestCloseTearsDownEverything(t *testing.T) {
	tr := ws.NewInProc()
	m := NewManager(tr, selfID)
	m.Reconcile(contacts("2"), []model.Team{member("5")}, false)

	m.Close()

	require.Empty(t, m.Keys())
	require.False(t, tr.Joined("dm.1.2"))
	require.False(t, tr.Joined("team.5"))

	// Close and a late reconcile may run in either order; both must be safe.
	m.Close()
	require.Empty(t, m.Reconcile(contacts("2"), nil, false))
	require.False(t, tr.Joined("dm.1.2"))
}

func TestDMChannelNameIsOrderIndependent(t *testing.T) {
	require.Equal(t, "dm.1.2", model.DMKey("2").ChannelName("1"))
	require.Equal(t, "dm.1.2", model.DMKey("1").ChannelName("2"))
}
