package coordinator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

// TestRegistryAdd verifies new connections start unidentified and alive.
func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	conn, err := r.Add("c1", &fakePeer{}, now)
	require.NoError(t, err)
	assert.Equal(t, RoleUnidentified, conn.Role)
	assert.True(t, conn.Alive)
	assert.Equal(t, now, conn.ConnectedAt)
	assert.Equal(t, "c1", conn.DisplayName())
	assert.Equal(t, 1, r.Len())

	_, err = r.Add("c1", &fakePeer{}, now)
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestRoleForClientType(t *testing.T) {
	tests := []struct {
		clientType string
		expected   Role
	}{
		{protocol.ClientTypeControlApp, RoleControlApp},
		{protocol.ClientTypeWorker, RoleWorker},
		{"cli", RoleUnidentified},
		{"", RoleUnidentified},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("type %q", tt.clientType), func(t *testing.T) {
			assert.Equal(t, tt.expected, RoleForClientType(tt.clientType))
		})
	}
}

// TestRegistryIdentify covers role slots and the single-worker invariant.
func TestRegistryIdentify(t *testing.T) {
	t.Run("unknown connection", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Identify("missing", RoleWorker, protocol.ClientTypeWorker, "ext")
		assert.ErrorIs(t, err, ErrUnknownConnection)
	})

	t.Run("control app slot", func(t *testing.T) {
		r := NewRegistry()
		_, _ = r.Add("app", &fakePeer{}, time.Now())

		evicted, err := r.Identify("app", RoleControlApp, protocol.ClientTypeControlApp, "electron-app")
		require.NoError(t, err)
		assert.Empty(t, evicted)

		conn, ok := r.Find(RoleControlApp)
		require.True(t, ok)
		assert.Equal(t, ConnectionID("app"), conn.ID)
		assert.Equal(t, "electron-app", conn.DisplayName())

		_, ok = r.Find(RoleWorker)
		assert.False(t, ok)
	})

	t.Run("new worker evicts every previous worker", func(t *testing.T) {
		r := NewRegistry()
		for i := 1; i <= 5; i++ {
			id := ConnectionID(fmt.Sprintf("w%d", i))
			_, _ = r.Add(id, &fakePeer{}, time.Now())
			evicted, err := r.Identify(id, RoleWorker, protocol.ClientTypeWorker, "ext")
			require.NoError(t, err)
			if i == 1 {
				assert.Empty(t, evicted)
			} else {
				require.Len(t, evicted, 1)
				assert.Equal(t, ConnectionID(fmt.Sprintf("w%d", i-1)), evicted[0].ID)
			}

			workers := 0
			for _, c := range r.All() {
				if c.Role == RoleWorker {
					workers++
				}
			}
			assert.Equal(t, 1, workers)
		}

		conn, ok := r.Find(RoleWorker)
		require.True(t, ok)
		assert.Equal(t, ConnectionID("w5"), conn.ID)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("re-announcing with another role frees the slot", func(t *testing.T) {
		r := NewRegistry()
		_, _ = r.Add("c1", &fakePeer{}, time.Now())
		_, _ = r.Identify("c1", RoleWorker, protocol.ClientTypeWorker, "ext")
		_, _ = r.Identify("c1", RoleControlApp, protocol.ClientTypeControlApp, "app")

		_, ok := r.Find(RoleWorker)
		assert.False(t, ok)
		conn, ok := r.Find(RoleControlApp)
		require.True(t, ok)
		assert.Equal(t, ConnectionID("c1"), conn.ID)
	})

	t.Run("unidentified has no slot", func(t *testing.T) {
		r := NewRegistry()
		_, _ = r.Add("c1", &fakePeer{}, time.Now())
		_, _ = r.Identify("c1", RoleUnidentified, "cli", "tool")
		_, ok := r.Find(RoleUnidentified)
		assert.False(t, ok)
	})
}

// TestRegistryRemove verifies slots are cleared and the control slot falls back.
func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ConnectionID{"app1", "app2", "w"} {
		_, _ = r.Add(id, &fakePeer{}, time.Now())
	}
	_, _ = r.Identify("app1", RoleControlApp, protocol.ClientTypeControlApp, "one")
	_, _ = r.Identify("app2", RoleControlApp, protocol.ClientTypeControlApp, "two")
	_, _ = r.Identify("w", RoleWorker, protocol.ClientTypeWorker, "ext")

	conn, _ := r.Find(RoleControlApp)
	assert.Equal(t, ConnectionID("app2"), conn.ID)

	removed, ok := r.Remove("app2")
	require.True(t, ok)
	assert.Equal(t, "two", removed.Name)

	conn, ok = r.Find(RoleControlApp)
	require.True(t, ok)
	assert.Equal(t, ConnectionID("app1"), conn.ID)

	_, ok = r.Remove("w")
	require.True(t, ok)
	_, ok = r.Find(RoleWorker)
	assert.False(t, ok)

	_, ok = r.Remove("w")
	assert.False(t, ok)
}

func TestRegistryRosterOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []ConnectionID{"a", "b", "c"} {
		_, _ = r.Add(id, &fakePeer{}, time.Now())
	}
	_, _ = r.Identify("b", RoleWorker, protocol.ClientTypeWorker, "ext")
	r.Remove("a")

	assert.Equal(t, []protocol.ClientSummary{
		{ID: "b", Name: "ext"},
		{ID: "c"},
	}, r.Roster())
}
