package connpool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInCheckOut(t *testing.T) {
	p := New(2)
	c1, c1peer := net.Pipe()
	defer c1peer.Close()

	p.CheckIn("route-a", c1)
	require.Equal(t, 1, p.Len("route-a"))

	out, ok := p.CheckOut("route-a")
	require.True(t, ok)
	assert.Equal(t, c1, out)
	assert.Equal(t, 0, p.Len("route-a"))
}

func TestCheckOutEmpty(t *testing.T) {
	p := New(2)
	_, ok := p.CheckOut("nothing-here")
	assert.False(t, ok, "CheckOut on empty route returned ok")
}

func TestCapacityClosesOverflow(t *testing.T) {
	p := New(1)
	c1, peer1 := net.Pipe()
	c2, peer2 := net.Pipe()
	defer peer1.Close()
	defer peer2.Close()

	p.CheckIn("route-a", c1)
	p.CheckIn("route-a", c2) // over capacity, closed immediately

	require.Equal(t, 1, p.Len("route-a"))

	// c2 should now be closed; writing to its peer should eventually
	// surface a closed-pipe error.
	peer2.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := peer2.Write([]byte("x"))
	assert.Error(t, err, "expected write error on closed overflow connection")
}

func TestIdlePeerCloseRemovesEntry(t *testing.T) {
	p := New(2)
	conn, peer := net.Pipe()

	p.CheckIn("route-a", conn)
	peer.Close() // simulate the origin closing an idle connection

	require.Eventually(t, func() bool {
		return p.Len("route-a") == 0
	}, time.Second, time.Millisecond, "entry was not removed after peer close")
}
