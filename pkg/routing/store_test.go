package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/mctp-go/pkg/binding"
	"avaneesh/mctp-go/pkg/packet"
)

func TestStorePutListDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.db")

	s, err := OpenStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(StoredRoute{EID: 10, Bus: "udp0"}))
	require.NoError(t, s.Put(StoredRoute{EID: 9, Bus: "i2c0", Addr: "1d"}))
	require.NoError(t, s.Put(StoredRoute{EID: packet.EIDNull, Bus: "i2c0", Addr: "10"}))
	assert.Error(t, s.Put(StoredRoute{EID: packet.EIDBroadcast, Bus: "i2c0"}))
	assert.Error(t, s.Put(StoredRoute{EID: 11}))
	assert.Error(t, s.Put(StoredRoute{EID: 11, Bus: "x", Addr: "zz"}))

	// Last write for an EID wins
	require.NoError(t, s.Put(StoredRoute{EID: 10, Bus: "udp1"}))
	require.NoError(t, s.Close())

	// Routes survive reopening
	s, err = OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	routes, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []StoredRoute{
		{EID: packet.EIDNull, Bus: "i2c0", Addr: "10"},
		{EID: 9, Bus: "i2c0", Addr: "1d"},
		{EID: 10, Bus: "udp1"},
	}, routes)

	r, ok, err := s.Get(9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1d", r.Addr)

	require.NoError(t, s.Delete(9))
	require.NoError(t, s.Delete(9))
	_, ok, err = s.Get(9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply(t *testing.T) {
	set, err := binding.NewSet(4)
	require.NoError(t, err)
	a, _ := binding.NewLoopbackPair(1, 64)
	b, _ := binding.NewLoopbackPair(1, 64)
	h0, err := set.Add("i2c0", a)
	require.NoError(t, err)
	h1, err := set.Add("udp0", b)
	require.NoError(t, err)

	tbl := newTestTable(t, 4)
	routes := []StoredRoute{
		{EID: 9, Bus: "i2c0", Addr: "1d"},
		{EID: 10, Bus: "udp0"},
		{EID: 11, Bus: "missing"},
		{EID: packet.EIDNull, Bus: "i2c0"},
	}

	skipped, err := Apply(tbl, set, routes, false)
	require.NoError(t, err)
	assert.Equal(t, []StoredRoute{{EID: 11, Bus: "missing"}}, skipped)

	e, err := tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, h0, e.Bus)
	assert.Equal(t, "1d", e.Addr.String())

	e, err = tbl.Resolve(200)
	require.NoError(t, err)
	assert.Equal(t, h0, e.Bus, "default route")

	// A conflicting route needs replace
	conflict := []StoredRoute{{EID: 9, Bus: "udp0"}}
	_, err = Apply(tbl, set, conflict, false)
	assert.ErrorIs(t, err, ErrRouteExists)

	_, err = Apply(tbl, set, conflict, true)
	require.NoError(t, err)
	e, err = tbl.Resolve(9)
	require.NoError(t, err)
	assert.Equal(t, h1, e.Bus)
}

func TestLoadStatic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.toml")
	content := `
local = [8, 12]

[[route]]
eid = 9
bus = "i2c0"
addr = "1d"

[[route]]
eid = 0
bus = "i2c0"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	f, err := LoadStatic(path)
	require.NoError(t, err)
	assert.Equal(t, []packet.EID{8, 12}, f.Local)
	require.Len(t, f.Routes, 2)
	assert.Equal(t, StoredRoute{EID: 9, Bus: "i2c0", Addr: "1d"}, f.Routes[0])
	assert.True(t, f.Routes[1].IsDefault())
}

func TestLoadStaticErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Unknown key", "[[route]]\neid = 9\nbus = \"i2c0\"\nmetric = 3\n"},
		{"Broadcast route", "[[route]]\neid = 255\nbus = \"i2c0\"\n"},
		{"Missing bus", "[[route]]\neid = 9\n"},
		{"Duplicate route", "[[route]]\neid = 9\nbus = \"a\"\n[[route]]\neid = 9\nbus = \"b\"\n"},
		{"EID out of range", "[[route]]\neid = 300\nbus = \"a\"\n"},
		{"Bad local", "local = [0]\n"},
		{"Bad address", "[[route]]\neid = 9\nbus = \"a\"\naddr = \"xyz\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "routes.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadStatic(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadStatic(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
