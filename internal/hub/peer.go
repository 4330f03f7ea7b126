package hub

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PeerInfo describes a registered connection.
type PeerInfo struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type peer struct {
	PeerInfo
	conn         net.Conn
	writeTimeout time.Duration

	// mu serializes frames on the wire
	mu        sync.Mutex
	closeOnce sync.Once
}

func newPeer(conn net.Conn, writeTimeout time.Duration) *peer {
	return &peer{
		PeerInfo: PeerInfo{
			ID:          uuid.NewString(),
			Addr:        conn.RemoteAddr().String(),
			ConnectedAt: time.Now().UTC(),
		},
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (p *peer) write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked(frame)
}

func (p *peer) writeLocked(frame []byte) error {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := p.conn.Write(frame)
	return err
}

func (p *peer) close() {
	p.closeOnce.Do(func() { _ = p.conn.Close() })
}
