package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/event"
	"github.com/eyalp7/SyncSphere/internal/filestore"
	"github.com/eyalp7/SyncSphere/internal/hub"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/database"
	"github.com/eyalp7/SyncSphere/pkg/tlsutil"
)

type testRegion struct {
	db    *gorm.DB
	files *filestore.Store
	queue *queue.Memory
	agent *Agent
}

func newTestRegion(t *testing.T, name, hubAddr string) *testRegion {
	t.Helper()
	return newTestRegionLimit(t, name, hubAddr, 0)
}

func newTestRegionLimit(t *testing.T, name, hubAddr string, maxFrame int) *testRegion {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, name+".db"), LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	r := &testRegion{db: db, files: filestore.New(filepath.Join(dir, "uploads")), queue: queue.NewMemory()}
	r.agent = New(Options{
		Region:       name,
		Addr:         hubAddr,
		TLS:          &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		DialTimeout:   time.Second,
		WriteTimeout:  time.Second,
		MaxFrameBytes: maxFrame,
	}, r.queue, service.NewApplier(db, r.files))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.agent.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func (r *testRegion) fileCount(t *testing.T, id int64) int64 {
	var n int64
	require.NoError(t, r.db.Model(&model.File{}).Where("id = ?", id).Count(&n).Error)
	return n
}

func TestEndToEnd_UploadThenDeleteAcrossRegions(t *testing.T) {
	cert, _, err := tlsutil.SelfSigned("127.0.0.1")
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := hub.New(hub.Options{
		TLS:          &tls.Config{Certificates: []tls.Certificate{cert}},
		SyncInterval: time.Hour,
		HistorySize:  10,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-hubDone
	}()

	addr := ln.Addr().String()
	a := newTestRegion(t, "a", addr)
	b := newTestRegion(t, "b", addr)
	require.Eventually(t, func() bool { return len(h.Peers()) == 2 }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, a.queue.Enqueue(context.Background(), event.New(event.FileUpload{
		ID: 7, UserID: 1, StoredFilename: "7.txt", OriginalFilename: "notes.txt",
		UploadDate: event.Now(), FileSize: 5, Permissions: model.PermissionPrivate,
		Content: []byte("hello"),
	})))
	h.Solicit()

	require.Eventually(t, func() bool { return b.fileCount(t, 7) == 1 }, 3*time.Second, 20*time.Millisecond)
	got, err := b.files.Read("7.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, a.queue.Enqueue(context.Background(), event.New(event.FileDelete{FileID: 7})))
	h.Solicit()

	require.Eventually(t, func() bool { return b.fileCount(t, 7) == 0 }, 3*time.Second, 20*time.Millisecond)
	_, err = b.files.Read("7.txt")
	assert.Error(t, err)

	// a late region replays both batches and converges
	c := newTestRegion(t, "c", addr)
	require.Eventually(t, func() bool {
		return c.agent.Status(context.Background()).BatchesRecv == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Zero(t, c.fileCount(t, 7))
	_, err = c.files.Read("7.txt")
	assert.Error(t, err)
}

func TestEndToEnd_DrainLargerThanFrameLimitArrivesWhole(t *testing.T) {
	const limit = 2048
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cert, _, err := tlsutil.SelfSigned("127.0.0.1")
	require.NoError(t, err)
	h := hub.New(hub.Options{
		TLS:           &tls.Config{Certificates: []tls.Certificate{cert}},
		SyncInterval:  time.Hour,
		HistorySize:   10,
		WriteTimeout:  time.Second,
		MaxFrameBytes: limit,
	})
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-hubDone
	}()

	addr := ln.Addr().String()
	a := newTestRegionLimit(t, "a", addr, limit)
	b := newTestRegionLimit(t, "b", addr, limit)
	require.Eventually(t, func() bool { return len(h.Peers()) == 2 }, 3*time.Second, 10*time.Millisecond)

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, a.queue.Enqueue(context.Background(), event.New(event.FileUpload{
			ID: id, UserID: 1, StoredFilename: fmt.Sprintf("%d.txt", id), OriginalFilename: "a.txt",
			UploadDate: event.Now(), FileSize: 900, Permissions: model.PermissionPrivate,
			Content: bytes.Repeat([]byte("x"), 900),
		})))
	}
	h.Solicit()

	require.Eventually(t, func() bool {
		var n int64
		require.NoError(t, b.db.Model(&model.File{}).Count(&n).Error)
		return n == 3
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return b.agent.Status(context.Background()).BatchesRecv == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, h.HistoryLen())
	assert.Zero(t, a.agent.Status(context.Background()).QueueLen)
}
