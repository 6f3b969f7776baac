package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohttp/internal/httpconn"
)

func newTestTable(capacity, maxFd int) *Table {
	opts := httpconn.DefaultOptions("/nonexistent")
	return NewTable(capacity, maxFd, 64, 64, &opts, func(*slot) {})
}

func TestTable_InstallGetRetire(t *testing.T) {
	tbl := newTestTable(2, 32)
	assert.Equal(t, 2, tbl.Cap())
	assert.Equal(t, 32, tbl.MaxFd())
	assert.Zero(t, tbl.Active())

	s, ok := tbl.Install(5, "10.0.0.1:1000")
	require.True(t, ok)
	assert.Equal(t, 5, s.fd)
	assert.Equal(t, 5, s.conn.Fd())
	assert.Equal(t, "10.0.0.1:1000", s.conn.Peer())
	assert.Equal(t, httpconn.NextRead, s.next)
	assert.Same(t, s, tbl.Get(5))
	assert.Equal(t, int32(1), tbl.Active())

	_, ok = tbl.Install(5, "dup")
	assert.False(t, ok, "fd already installed")

	_, ok = tbl.Install(32, "too high")
	assert.False(t, ok, "fd outside the index")

	_, ok = tbl.Install(-1, "negative")
	assert.False(t, ok)

	_, ok = tbl.Install(6, "10.0.0.2:1000")
	require.True(t, ok)

	_, ok = tbl.Install(7, "full")
	assert.False(t, ok, "table full")
	assert.Equal(t, int32(2), tbl.Active())

	tbl.Retire(5)
	assert.Nil(t, tbl.Get(5))
	assert.Equal(t, int32(1), tbl.Active())
	tbl.Retire(5)
	assert.Equal(t, int32(1), tbl.Active(), "retiring twice is a no-op")

	s7, ok := tbl.Install(7, "10.0.0.3:1000")
	require.True(t, ok)
	assert.Same(t, s, s7, "freed slot is reused")
	assert.NotEqual(t, s.conn.ID().String(), "")
}

func TestTable_Each(t *testing.T) {
	tbl := newTestTable(4, 64)
	for _, fd := range []int{10, 11, 12} {
		_, ok := tbl.Install(fd, "p")
		require.True(t, ok)
	}

	var seen []int
	tbl.Each(func(s *slot) {
		seen = append(seen, s.fd)
		tbl.Retire(s.fd)
	})

	assert.ElementsMatch(t, []int{10, 11, 12}, seen)
	assert.Zero(t, tbl.Active())
	assert.Nil(t, tbl.Get(11))
}

func TestTable_GetOutOfRange(t *testing.T) {
	tbl := newTestTable(1, 8)
	assert.Nil(t, tbl.Get(-3))
	assert.Nil(t, tbl.Get(8))
	assert.Nil(t, tbl.Get(3))
}
