package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/packet"
)

func newTestTable(t *testing.T, capacity int) *Table {
	t.Helper()
	tbl, err := New(capacity, 4)
	require.NoError(t, err)
	return tbl
}

func mustAddr(t *testing.T, s string) binding.PhysAddr {
	t.Helper()
	a, err := binding.ParsePhysAddr(s)
	require.NoError(t, err)
	return a
}

func TestRegisterAndResolve(t *testing.T) {
	tbl := newTestTable(t, 4)
	addr := mustAddr(t, "1d")

	require.NoError(t, tbl.Register(9, 0, addr))
	e, err := tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, Entry{EID: 9, Bus: 0, Addr: addr}, e)

	_, err = tbl.Resolve(10)
	assert.ErrorIs(t, err, ErrNoRoute)

	n, err := tbl.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterRejectsReservedEIDs(t *testing.T) {
	tbl := newTestTable(t, 4)

	assert.ErrorIs(t, tbl.Register(packet.EIDNull, 0, binding.PhysAddr{}), ErrInvalidEndpoint)
	assert.ErrorIs(t, tbl.Register(packet.EIDBroadcast, 0, binding.PhysAddr{}), ErrInvalidEndpoint)
	assert.ErrorIs(t, tbl.Register(9, binding.InvalidBus, binding.PhysAddr{}), ErrInvalidBus)

	_, err := tbl.Resolve(packet.EIDNull)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	_, err = tbl.Resolve(packet.EIDBroadcast)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestRegisterNoSilentOverwrite(t *testing.T) {
	tbl := newTestTable(t, 4)

	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	// Identical registration is a no-op
	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))

	err := tbl.Register(9, 1, binding.PhysAddr{})
	assert.ErrorIs(t, err, ErrRouteExists)

	e, err := tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, binding.BusHandle(0), e.Bus)

	// Explicit re-registration wins
	require.NoError(t, tbl.Replace(9, 1, mustAddr(t, "20")))
	e, err = tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, binding.BusHandle(1), e.Bus)
	assert.Equal(t, "20", e.Addr.String())

	n, err := tbl.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTableFull(t *testing.T) {
	tbl := newTestTable(t, 2)

	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.Register(10, 0, binding.PhysAddr{}))
	assert.ErrorIs(t, tbl.Register(11, 0, binding.PhysAddr{}), ErrTableFull)
	assert.ErrorIs(t, tbl.Replace(11, 0, binding.PhysAddr{}), ErrTableFull)

	require.NoError(t, tbl.Unregister(9))
	require.NoError(t, tbl.Register(11, 0, binding.PhysAddr{}))
}

func TestUnregisterIdempotent(t *testing.T) {
	tbl := newTestTable(t, 2)

	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.Unregister(9))
	require.NoError(t, tbl.Unregister(9))
	require.NoError(t, tbl.Unregister(42))

	_, err := tbl.Resolve(9)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestDefaultRoute(t *testing.T) {
	tbl := newTestTable(t, 2)
	owner := mustAddr(t, "10")

	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.SetDefault(1, owner))

	e, err := tbl.Resolve(77)
	require.NoError(t, err)
	assert.Equal(t, Entry{EID: 77, Bus: 1, Addr: owner}, e)

	// Specific routes take precedence
	e, err = tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, binding.BusHandle(0), e.Bus)

	def, ok, err := tbl.Default()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, binding.BusHandle(1), def.Bus)

	require.NoError(t, tbl.ClearDefault())
	_, err = tbl.Resolve(77)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestBroadcastVisitsEachBusOnce(t *testing.T) {
	tbl := newTestTable(t, 8)

	_, err := tbl.Broadcast(func(Entry) bool { return true })
	assert.ErrorIs(t, err, ErrNoRoute)

	require.NoError(t, tbl.Register(9, 0, mustAddr(t, "1d")))
	require.NoError(t, tbl.Register(10, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.Register(11, 2, binding.PhysAddr{}))
	require.NoError(t, tbl.SetDefault(3, binding.PhysAddr{}))

	var got []Entry
	n, err := tbl.Broadcast(func(e Entry) bool {
		got = append(got, e)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var buses []binding.BusHandle
	for _, e := range got {
		assert.Equal(t, packet.EIDBroadcast, e.EID)
		assert.True(t, e.Addr.IsZero())
		buses = append(buses, e.Bus)
	}
	assert.ElementsMatch(t, []binding.BusHandle{0, 2, 3}, buses)

	// Stops early
	n, err = tbl.Broadcast(func(Entry) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBroadcastVisitMayUseTable(t *testing.T) {
	tbl := newTestTable(t, 2)
	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))

	_, err := tbl.Broadcast(func(e Entry) bool {
		_, err := tbl.Resolve(9)
		assert.NoError(t, err)
		return true
	})
	require.NoError(t, err)
}

func TestUnregisterBus(t *testing.T) {
	tbl := newTestTable(t, 4)

	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.Register(10, 1, binding.PhysAddr{}))
	require.NoError(t, tbl.Register(11, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.SetDefault(0, binding.PhysAddr{}))

	removed, err := tbl.UnregisterBus(0)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = tbl.Resolve(9)
	assert.ErrorIs(t, err, ErrNoRoute)
	_, err = tbl.Resolve(10)
	assert.NoError(t, err)
}

func TestLocalEndpoints(t *testing.T) {
	tbl, err := New(4, 2)
	require.NoError(t, err)

	require.NoError(t, tbl.AddLocal(8))
	require.NoError(t, tbl.AddLocal(8))
	require.NoError(t, tbl.AddLocal(12))
	assert.ErrorIs(t, tbl.AddLocal(13), ErrTableFull)
	assert.ErrorIs(t, tbl.AddLocal(packet.EIDNull), ErrInvalidEndpoint)

	ok, err := tbl.IsLocal(8)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tbl.RemoveLocal(8))
	ok, err = tbl.IsLocal(8)
	require.NoError(t, err)
	assert.False(t, ok)

	locals, err := tbl.Locals()
	require.NoError(t, err)
	assert.Equal(t, []packet.EID{12}, locals)
}

func TestRangeAndGuard(t *testing.T) {
	tbl := newTestTable(t, 4)
	require.NoError(t, tbl.Register(9, 0, binding.PhysAddr{}))
	require.NoError(t, tbl.Register(10, 0, binding.PhysAddr{}))

	var eids []packet.EID
	require.NoError(t, tbl.Range(func(e Entry) bool {
		eids = append(eids, e.EID)
		return true
	}))
	assert.ElementsMatch(t, []packet.EID{9, 10}, eids)

	tbl.mu.Lock()
	assert.ErrorIs(t, tbl.Register(11, 0, binding.PhysAddr{}), ErrBusy)
	_, err := tbl.Resolve(9)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, tbl.Unregister(9), ErrBusy)
	_, err = tbl.Broadcast(func(Entry) bool { return true })
	assert.ErrorIs(t, err, ErrBusy)
	_, err = tbl.IsLocal(8)
	assert.ErrorIs(t, err, ErrBusy)
	tbl.mu.Unlock()

	_, err = tbl.Resolve(9)
	assert.NoError(t, err)
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	_, err := New(0, 1)
	assert.Error(t, err)
	_, err = New(1, 0)
	assert.Error(t, err)
}
