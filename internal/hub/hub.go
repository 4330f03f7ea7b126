package hub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/wire"
	"github.com/eyalp7/SyncSphere/pkg/logger"
	"github.com/eyalp7/SyncSphere/pkg/observability"
)

const acceptRetryDelay = time.Second

// Options fixed at construction.
type Options struct {
	// TLS is nil for a plaintext listener.
	TLS              *tls.Config
	SyncInterval     time.Duration
	HistorySize      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// AcceptRate limits new connections per second; 0 disables the limit.
	AcceptRate    float64
	MaxFrameBytes int
}

// OptionsFromConfig maps the hub and wire config sections.
func OptionsFromConfig(hc config.HubConfig, wc config.WireConfig, tlsConf *tls.Config) Options {
	return Options{
		TLS:              tlsConf,
		SyncInterval:     hc.SyncInterval,
		HistorySize:      hc.HistorySize,
		HandshakeTimeout: hc.HandshakeTimeout,
		WriteTimeout:     hc.WriteTimeout,
		AcceptRate:       hc.AcceptRate,
		MaxFrameBytes:    wc.MaxFrameBytes,
	}
}

type Hub struct {
	opts    Options
	reg     *registry
	limiter *rate.Limiter
	log     *zap.Logger
	tracer  trace.Tracer
	wg      sync.WaitGroup
}

func New(opts Options) *Hub {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = wire.DefaultMaxFrameBytes
	}
	h := &Hub{
		opts:   opts,
		reg:    newRegistry(opts.HistorySize),
		log:    logger.Named("hub"),
		tracer: observability.Tracer("github.com/eyalp7/SyncSphere/internal/hub"),
	}
	if opts.AcceptRate > 0 {
		burst := int(opts.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return h
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes the
// listener and every connection and waits for all goroutines to exit.
// Errors on individual connections never stop the hub.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	h.log.Info("hub listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", h.opts.TLS != nil))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.solicitLoop(ctx)
	}()

	for {
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				break
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			h.log.Warn("accept failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.handle(ctx, conn)
		}()
	}

	cancel()
	h.wg.Wait()
	h.log.Info("hub stopped")
	return nil
}

func (h *Hub) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if h.opts.TLS != nil {
		tconn := tls.Server(conn, h.opts.TLS)
		hctx, cancel := context.WithTimeout(ctx, h.opts.HandshakeTimeout)
		err := tconn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			h.log.Warn("tls handshake failed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			_ = conn.Close()
			return
		}
		conn = tconn
	}

	p := newPeer(conn, h.opts.WriteTimeout)
	if err := h.join(p); err != nil {
		h.drop(p, err)
		return
	}
	h.log.Info("peer connected", zap.String("peer", p.ID), zap.String("remote", p.Addr))
	h.receive(ctx, p)
}

// join registers p and replays history to it. p's write lock is held from
// before registration until the replay is done, so a concurrent broadcast
// reaches p only after every older batch.
func (h *Hub) join(p *peer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, batch := range h.reg.join(p) {
		frame, err := wire.Encode(wire.Receive(batch))
		if err != nil {
			return err
		}
		if err := p.writeLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hub) receive(ctx context.Context, p *peer) {
	r := wire.NewReader(p.conn, h.opts.MaxFrameBytes)
	for {
		f, err := r.Next()
		if err != nil {
			if wire.IsFramingFault(err) {
				h.log.Warn("bad frame from peer", zap.String("peer", p.ID), zap.Error(err))
				continue
			}
			h.drop(p, err)
			return
		}
		switch f.Type {
		case wire.TypeChanges:
			h.broadcast(ctx, f.Events, p)
		default:
			h.log.Debug("ignoring frame", zap.String("peer", p.ID), zap.String("type", string(f.Type)))
		}
	}
}

func (h *Hub) drop(p *peer, cause error) {
	p.close()
	if !h.reg.remove(p) {
		return
	}
	fields := []zap.Field{zap.String("peer", p.ID), zap.String("remote", p.Addr)}
	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		fields = append(fields, zap.Error(cause))
	}
	h.log.Info("peer disconnected", fields...)
}

// Broadcast records batch in the history and sends it to every peer.
func (h *Hub) Broadcast(ctx context.Context, batch []json.RawMessage) {
	h.broadcast(ctx, batch, nil)
}

func (h *Hub) broadcast(ctx context.Context, batch []json.RawMessage, exclude *peer) {
	if len(batch) == 0 {
		return
	}
	_, span := h.tracer.Start(ctx, "hub.broadcast", trace.WithAttributes(attribute.Int("sync.events", len(batch))))
	defer span.End()

	frame, err := wire.Encode(wire.Receive(batch))
	if err != nil {
		h.log.Error("encode receive frame", zap.Error(err))
		return
	}
	targets := h.reg.record(batch, exclude)
	span.SetAttributes(attribute.Int("sync.peers", len(targets)))
	h.sendAll(targets, frame)
	h.log.Debug("batch relayed", zap.Int("events", len(batch)), zap.Int("peers", len(targets)))
}

// sendAll writes frame to every peer concurrently; a failed peer is dropped
// without affecting the others. It returns how many writes succeeded.
func (h *Hub) sendAll(targets []*peer, frame []byte) int {
	var (
		wg conc.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, p := range targets {
		p := p
		wg.Go(func() {
			if err := p.write(frame); err != nil {
				h.drop(p, err)
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		})
	}
	wg.Wait()
	return ok
}

func (h *Hub) solicitLoop(ctx context.Context) {
	t := time.NewTicker(h.opts.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Solicit()
		}
	}
}

// Solicit sends a send frame to every registered peer now and returns how
// many received it.
func (h *Hub) Solicit() int {
	frame, err := wire.Encode(wire.Send())
	if err != nil {
		h.log.Error("encode send frame", zap.Error(err))
		return 0
	}
	peers := h.reg.snapshot()
	n := h.sendAll(peers, frame)
	h.log.Debug("solicited changes", zap.Int("peers", n), zap.Int("registered", h.reg.len()))
	return n
}

// Peers lists the registered connections in join order.
func (h *Hub) Peers() []PeerInfo {
	peers := h.reg.snapshot()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.PeerInfo)
	}
	return out
}

func (h *Hub) HistoryLen() int { return h.reg.historyLen() }
