// Package agent is the regional side of the fabric. It keeps one
// connection to the hub, answers every "send" with the drained outbound
// queue and applies every "receive" batch to the local store.
package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/internal/wire"
	"github.com/eyalp7/SyncSphere/pkg/logger"
)

// ErrHubClosed is returned by Serve when the hub ends the stream.
var ErrHubClosed = errors.New("hub closed the connection")

// BatchApplier applies one received batch, in order.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, batch []json.RawMessage) service.ApplyReport
}

type ReconnectOptions struct {
	// MaxAttempts 0 disables reconnecting.
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Options struct {
	Region string
	Addr   string
	// TLS is nil for a plaintext connection.
	TLS           *tls.Config
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	Reconnect     ReconnectOptions
}

// OptionsFromConfig maps the agent and wire config sections.
func OptionsFromConfig(ac config.AgentConfig, wc config.WireConfig, tlsConf *tls.Config) Options {
	return Options{
		Region:        ac.Region,
		Addr:          ac.HubAddr(),
		TLS:           tlsConf,
		DialTimeout:   ac.DialTimeout,
		WriteTimeout:  ac.WriteTimeout,
		MaxFrameBytes: wc.MaxFrameBytes,
		Reconnect: ReconnectOptions{
			MaxAttempts:     ac.Reconnect.MaxAttempts,
			InitialInterval: ac.Reconnect.InitialInterval,
			MaxInterval:     ac.Reconnect.MaxInterval,
		},
	}
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	Region      string              `json:"region"`
	Hub         string              `json:"hub"`
	Connected   bool                `json:"connected"`
	QueueLen    int                 `json:"queue_len"`
	BatchesSent uint64              `json:"batches_sent"`
	EventsSent  uint64              `json:"events_sent"`
	BatchesRecv uint64              `json:"batches_received"`
	LastSend    time.Time           `json:"last_send,omitempty"`
	LastReceive time.Time           `json:"last_receive,omitempty"`
	LastApply   service.ApplyReport `json:"last_apply"`
}

type Agent struct {
	opts    Options
	queue   queue.Queue
	applier BatchApplier
	log     *zap.Logger

	connected atomic.Bool

	mu   sync.Mutex
	stat Status
}

func New(opts Options, q queue.Queue, applier BatchApplier) *Agent {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	return &Agent{
		opts:    opts,
		queue:   q,
		applier: applier,
		log:     logger.Named("agent").With(zap.String("region", opts.Region)),
	}
}

// Connect dials the hub, performing the TLS handshake when configured.
func (a *Agent) Connect(ctx context.Context) (net.Conn, error) {
	nd := &net.Dialer{Timeout: a.opts.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if a.opts.TLS != nil {
		td := &tls.Dialer{NetDialer: nd, Config: a.opts.TLS}
		conn, err = td.DialContext(ctx, "tcp", a.opts.Addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", a.opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", a.opts.Addr, err)
	}
	a.log.Info("connected to hub", zap.String("hub", a.opts.Addr))
	return conn, nil
}

// Run connects and serves until ctx is cancelled. Without reconnect it
// returns once the first connection ends.
func (a *Agent) Run(ctx context.Context) error {
	conn, err := a.Connect(ctx)
	if err != nil {
		if a.opts.Reconnect.MaxAttempts == 0 {
			return err
		}
		if conn, err = a.redial(ctx); err != nil {
			return err
		}
	}
	for {
		err := a.Serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		if a.opts.Reconnect.MaxAttempts == 0 {
			return err
		}
		a.log.Warn("hub connection lost, reconnecting", zap.Error(err))
		if conn, err = a.redial(ctx); err != nil {
			return err
		}
	}
}

func (a *Agent) redial(ctx context.Context) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	if a.opts.Reconnect.InitialInterval > 0 {
		b.InitialInterval = a.opts.Reconnect.InitialInterval
	}
	if a.opts.Reconnect.MaxInterval > 0 {
		b.MaxInterval = a.opts.Reconnect.MaxInterval
	}
	conn, err := backoff.Retry(ctx, func() (net.Conn, error) {
		return a.Connect(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(a.opts.Reconnect.MaxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			a.log.Warn("reconnect failed", zap.Duration("retry_in", d), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}
	return conn, nil
}

// Serve runs the message pump on conn until the stream ends or ctx is
// cancelled, and closes conn. A cancelled ctx yields nil.
func (a *Agent) Serve(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	a.connected.Store(true)
	defer a.connected.Store(false)

	r := wire.NewReader(conn, a.opts.MaxFrameBytes)
	for {
		f, err := r.Next()
		if err != nil {
			if wire.IsFramingFault(err) {
				a.log.Warn("bad frame from hub", zap.Error(err))
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrHubClosed
			}
			return fmt.Errorf("read from hub: %w", err)
		}

		switch f.Type {
		case wire.TypeSend:
			if err := a.sendChanges(ctx, conn); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case wire.TypeReceive:
			a.receive(ctx, f.Events)
		default:
			a.log.Debug("ignoring frame", zap.String("type", string(f.Type)))
		}
	}
}

// sendChanges drains the queue and sends it as changes frames. Events are
// cut into consecutive runs that each fit in MaxFrameBytes, so a large drain
// becomes several batches in queue order. An empty queue sends nothing. If a
// write fails, that run and everything after it go back to the head of the
// queue.
func (a *Agent) sendChanges(ctx context.Context, conn net.Conn) error {
	batch, err := a.queue.Drain(ctx)
	if err != nil {
		a.log.Error("drain outbound queue", zap.Error(err))
		return nil
	}
	if len(batch) == 0 {
		return nil
	}

	runs, oversized := wire.Split(wire.TypeChanges, batch, a.opts.MaxFrameBytes)
	for _, raw := range oversized {
		// 单个事件超过帧上限，hub 无法接收
		a.log.Error("event exceeds frame limit, dropped",
			zap.Int("bytes", len(raw)), zap.Int("max_frame_bytes", a.opts.MaxFrameBytes))
	}

	for i, run := range runs {
		if err := a.write(conn, wire.Changes(run)); err != nil {
			rest := slices.Concat(runs[i:]...)
			if rerr := a.queue.Requeue(context.WithoutCancel(ctx), rest); rerr != nil {
				a.log.Error("requeue unsent batch, events lost", zap.Int("events", len(rest)), zap.Error(rerr))
			} else {
				a.log.Warn("send changes failed, batch requeued", zap.Int("events", len(rest)), zap.Error(err))
			}
			return fmt.Errorf("send changes: %w", err)
		}

		a.mu.Lock()
		a.stat.BatchesSent++
		a.stat.EventsSent += uint64(len(run))
		a.stat.LastSend = time.Now().UTC()
		a.mu.Unlock()
		a.log.Info("changes sent", zap.Int("events", len(run)), zap.Int("frame", i+1), zap.Int("frames", len(runs)))
	}
	return nil
}

func (a *Agent) write(conn net.Conn, f wire.Frame) error {
	if a.opts.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return wire.Write(conn, f)
}

func (a *Agent) receive(ctx context.Context, batch []json.RawMessage) {
	rep := a.applier.ApplyBatch(ctx, batch)

	a.mu.Lock()
	a.stat.BatchesRecv++
	a.stat.LastReceive = time.Now().UTC()
	a.stat.LastApply = rep
	a.mu.Unlock()

	a.log.Info("batch applied",
		zap.Int("events", len(batch)),
		zap.Int("applied", rep.Applied),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed))
}

func (a *Agent) Connected() bool { return a.connected.Load() }

func (a *Agent) Status(ctx context.Context) Status {
	a.mu.Lock()
	st := a.stat
	a.mu.Unlock()
	st.Region = a.opts.Region
	st.Hub = a.opts.Addr
	st.Connected = a.Connected()
	if n, err := a.queue.Len(ctx); err == nil {
		st.QueueLen = n
	}
	return st
}
