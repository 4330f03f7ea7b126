package hub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyalp7/SyncSphere/internal/wire"
	"github.com/eyalp7/SyncSphere/pkg/tlsutil"
)

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
}

func (c *testClient) send(f wire.Frame) {
	c.t.Helper()
	require.NoError(c.t, wire.Write(c.conn, f))
}

func (c *testClient) next() wire.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	f, err := c.r.Next()
	require.NoError(c.t, err)
	return f
}

// silent asserts nothing arrives within a short window.
func (c *testClient) silent() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := c.r.Next()
	var ne net.Error
	require.ErrorAs(c.t, err, &ne)
	assert.True(c.t, ne.Timeout())
}

func startHub(t *testing.T, opts Options) (*Hub, string, context.CancelFunc) {
	t.Helper()
	if opts.SyncInterval == 0 {
		opts.SyncInterval = time.Hour
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return h, ln.Addr().String(), cancel
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: wire.NewReader(conn, 0)}
}

func waitPeers(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.Peers()) == n }, 3*time.Second, 10*time.Millisecond)
}

func batch(ids ...int) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"type":"file_delete","file_id":%d}`, id)))
	}
	return out
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h, addr, _ := startHub(t, Options{HistorySize: 10})
	a, b, c := dial(t, addr), dial(t, addr), dial(t, addr)
	waitPeers(t, h, 3)

	a.send(wire.Changes(batch(1, 2)))

	for _, cl := range []*testClient{b, c} {
		f := cl.next()
		assert.Equal(t, wire.TypeReceive, f.Type)
		assert.Equal(t, batch(1, 2), f.Events)
	}
	a.silent()
	assert.Equal(t, 1, h.HistoryLen())
}

func TestHub_ReplayOnJoinIsBounded(t *testing.T) {
	h, addr, _ := startHub(t, Options{HistorySize: 2})
	a, observer := dial(t, addr), dial(t, addr)
	waitPeers(t, h, 2)

	for i := 1; i <= 3; i++ {
		a.send(wire.Changes(batch(i)))
		assert.Equal(t, batch(i), observer.next().Events)
	}
	assert.Equal(t, 2, h.HistoryLen())

	late := dial(t, addr)
	assert.Equal(t, batch(2), late.next().Events)
	assert.Equal(t, batch(3), late.next().Events)
	late.silent()
}

func TestHub_NoHistoryMeansNoReplay(t *testing.T) {
	h, addr, _ := startHub(t, Options{HistorySize: 0})
	a, b := dial(t, addr), dial(t, addr)
	waitPeers(t, h, 2)
	a.send(wire.Changes(batch(1)))
	b.next()

	late := dial(t, addr)
	waitPeers(t, h, 3)
	late.silent()
}

func TestHub_RemovesDisconnectedPeer(t *testing.T) {
	h, addr, _ := startHub(t, Options{})
	a, b := dial(t, addr), dial(t, addr)
	waitPeers(t, h, 2)

	require.NoError(t, a.conn.Close())
	waitPeers(t, h, 1)

	h.Broadcast(context.Background(), batch(9))
	assert.Equal(t, batch(9), b.next().Events)
	assert.Equal(t, 1, h.Solicit())
}

func TestHub_MalformedInputKeepsConnection(t *testing.T) {
	h, addr, _ := startHub(t, Options{HistorySize: 5})
	a, b := dial(t, addr), dial(t, addr)
	waitPeers(t, h, 2)

	_, err := a.conn.Write([]byte("not json\n{\"events\":[]}\n"))
	require.NoError(t, err)
	a.send(wire.Frame{Type: "bogus"})
	a.send(wire.Changes(nil))
	a.send(wire.Changes(batch(4)))

	assert.Equal(t, batch(4), b.next().Events)
	assert.Len(t, h.Peers(), 2)
	assert.Equal(t, 1, h.HistoryLen())
}

func TestHub_SolicitReachesEveryPeer(t *testing.T) {
	h, addr, _ := startHub(t, Options{})
	a, b := dial(t, addr), dial(t, addr)
	waitPeers(t, h, 2)

	assert.Equal(t, 2, h.Solicit())
	assert.Equal(t, wire.TypeSend, a.next().Type)
	assert.Equal(t, wire.TypeSend, b.next().Type)
}

func TestHub_SolicitationLoopTicks(t *testing.T) {
	h, addr, _ := startHub(t, Options{SyncInterval: 50 * time.Millisecond})
	a := dial(t, addr)
	waitPeers(t, h, 1)
	assert.Equal(t, wire.TypeSend, a.next().Type)
	assert.Equal(t, wire.TypeSend, a.next().Type)
}

func TestHub_TLSHandshakeFailureIsIsolated(t *testing.T) {
	cert, _, err := tlsutil.SelfSigned("127.0.0.1")
	require.NoError(t, err)
	h, addr, _ := startHub(t, Options{
		TLS:              &tls.Config{Certificates: []tls.Certificate{cert}},
		HandshakeTimeout: time.Second,
	})

	plain := dial(t, addr)
	_, err = plain.conn.Write([]byte("{\"type\":\"changes\"}\n"))
	require.NoError(t, err)
	require.NoError(t, plain.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = plain.r.Next()
	require.Error(t, err)
	assert.Empty(t, h.Peers())

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	waitPeers(t, h, 1)

	cl := &testClient{t: t, conn: conn, r: wire.NewReader(conn, 0)}
	h.Solicit()
	assert.Equal(t, wire.TypeSend, cl.next().Type)
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	h, addr, cancel := startHub(t, Options{})
	a := dial(t, addr)
	waitPeers(t, h, 1)

	cancel()
	require.NoError(t, a.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := a.r.Next()
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout())
	}
}

func TestRegistry_RecordAndJoinAreConsistent(t *testing.T) {
	r := newRegistry(2)
	p1 := &peer{PeerInfo: PeerInfo{ID: "p1"}}
	p2 := &peer{PeerInfo: PeerInfo{ID: "p2"}}

	assert.Empty(t, r.join(p1))
	targets := r.record(batch(1), p1)
	assert.Empty(t, targets)

	assert.Equal(t, [][]json.RawMessage{batch(1)}, r.join(p2))
	targets = r.record(batch(2), p1)
	require.Len(t, targets, 1)
	assert.Equal(t, "p2", targets[0].ID)

	r.record(batch(3), nil)
	assert.Equal(t, 2, r.historyLen())

	assert.True(t, r.remove(p1))
	assert.False(t, r.remove(p1))
	assert.Equal(t, 1, r.len())
}

// pipePeer joins a peer backed by one end of a pipe and returns the other end.
func pipePeer(t *testing.T, h *Hub) (*peer, net.Conn) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = cli.Close()
	})
	p := newPeer(srv, time.Second)
	require.NoError(t, h.join(p))
	return p, cli
}

// collect reads frames from conn until it closes.
func collect(conn net.Conn) <-chan wire.Frame {
	out := make(chan wire.Frame, 8)
	go func() {
		defer close(out)
		r := wire.NewReader(conn, 0)
		for {
			f, err := r.Next()
			if err != nil {
				return
			}
			out <- f
		}
	}()
	return out
}

func TestHub_SendFailureDropsPeerAndOthersStillReceive(t *testing.T) {
	h := New(Options{HistorySize: 10, WriteTimeout: time.Second})
	ctx := context.Background()

	a, aConn := pipePeer(t, h)
	_, bConn := pipePeer(t, h)
	_, cConn := pipePeer(t, h)
	require.NoError(t, cConn.Close())
	require.Equal(t, 3, h.reg.len())

	aFrames, bFrames := collect(aConn), collect(bConn)

	h.broadcast(ctx, batch(1), a)
	assert.Equal(t, 2, h.reg.len())
	assert.Len(t, h.Peers(), 2)
	f := <-bFrames
	assert.Equal(t, wire.TypeReceive, f.Type)
	assert.Equal(t, batch(1), f.Events)

	h.broadcast(ctx, batch(2), nil)
	assert.Equal(t, 2, h.reg.len())
	assert.Equal(t, 2, h.HistoryLen())
	for _, frames := range []<-chan wire.Frame{aFrames, bFrames} {
		select {
		case f := <-frames:
			assert.Equal(t, batch(2), f.Events)
		case <-time.After(2 * time.Second):
			t.Fatal("second broadcast not delivered")
		}
	}
}
