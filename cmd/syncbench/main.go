// syncbench measures how long local uploads take to land in every other
// region through an in-process hub.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/agent"
	"github.com/eyalp7/SyncSphere/internal/filestore"
	"github.com/eyalp7/SyncSphere/internal/hub"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// pct 百分位
func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

type region struct {
	name  string
	db    *gorm.DB
	queue queue.Queue
	files *filestore.Store
}

func main() {
	cfg := must(config.Load())

	N := envInt("N", 1000)
	REGIONS := envInt("REGIONS", 3)
	CONC := envInt("CONC", 4)
	SIZE := envInt("SIZE", 1024)
	INTERVAL := time.Duration(envInt("INTERVAL_MS", 50)) * time.Millisecond
	QUEUE := os.Getenv("QUEUE")

	dir := must(os.MkdirTemp("", "syncbench-"))
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := must(net.Listen("tcp", "127.0.0.1:0"))
	h := hub.New(hub.Options{
		SyncInterval:  INTERVAL,
		HistorySize:   cfg.Hub.HistorySize,
		WriteTimeout:  cfg.Hub.WriteTimeout,
		MaxFrameBytes: cfg.Wire.MaxFrameBytes,
	})
	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Serve(ctx, ln) }()

	regions := make([]*region, REGIONS)
	var agents sync.WaitGroup
	for i := range regions {
		name := fmt.Sprintf("r%d", i)
		db := must(database.Open(config.DatabaseConfig{
			Driver:   "sqlite",
			DSN:      filepath.Join(dir, name+".db"),
			LogLevel: "silent",
		}))
		if err := database.Migrate(db); err != nil {
			panic(err)
		}
		var q queue.Queue = queue.NewMemory()
		if QUEUE == "outbox" {
			q = queue.NewOutbox(db)
		}
		r := &region{name: name, db: db, queue: q, files: filestore.New(filepath.Join(dir, name, "uploads"))}
		regions[i] = r

		ag := agent.New(agent.Options{
			Region:        name,
			Addr:          ln.Addr().String(),
			WriteTimeout:  cfg.Agent.WriteTimeout,
			MaxFrameBytes: cfg.Wire.MaxFrameBytes,
		}, q, service.NewApplier(db, r.files))
		agents.Add(1)
		go func() {
			defer agents.Done()
			_ = ag.Run(ctx)
		}()
	}
	for len(h.Peers()) < REGIONS {
		time.Sleep(10 * time.Millisecond)
	}

	// producer: region 0
	src := regions[0]
	owner := must(service.NewUserService(src.db, src.queue).Register(ctx, service.RegisterInput{
		Username: "bench", Email: "bench@example.com", Password: "benchpass",
	}))
	if err := src.db.Model(&model.User{}).Where("id = ?", owner.ID).Update("storage_quota", 0).Error; err != nil {
		panic(err)
	}
	files := service.NewFileService(src.db, src.queue, src.files).WithMaxFrameBytes(cfg.Wire.MaxFrameBytes)

	content := make([]byte, SIZE)
	_, _ = rand.Read(content)

	lat := make(chan time.Duration, N)
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)
	t0 := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < CONC; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range feed {
				st := time.Now()
				if _, err := files.Upload(ctx, owner.ID, fmt.Sprintf("f%06d.txt", i), content); err != nil {
					panic(err)
				}
				lat <- time.Since(st)
			}
		}()
	}
	wg.Wait()
	close(lat)
	produceDur := time.Since(t0)
	uploads := make([]time.Duration, 0, N)
	for d := range lat {
		uploads = append(uploads, d)
	}

	// convergence: every other region holds all N files
	landed := make([]time.Duration, REGIONS)
	deadline := time.Now().Add(5 * time.Minute)
	for i := 1; i < REGIONS; i++ {
		for {
			var cnt int64
			_ = regions[i].db.Model(&model.File{}).Count(&cnt).Error
			if cnt >= int64(N) {
				landed[i] = time.Since(t0)
				break
			}
			if time.Now().After(deadline) {
				fmt.Printf("region %s did not converge: %d/%d files\n", regions[i].name, cnt, N)
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	cancel()
	<-hubDone
	agents.Wait()
	for _, r := range regions {
		_ = database.Close(r.db)
	}

	fmt.Printf("N=%d, REGIONS=%d, CONC=%d, SIZE=%dB, INTERVAL=%v, QUEUE=%s\n", N, REGIONS, CONC, SIZE, INTERVAL, orDefault(QUEUE, "memory"))
	fmt.Printf("Local upload total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		produceDur, produceDur/time.Duration(N), pct(uploads, 0.50), pct(uploads, 0.95), pct(uploads, 0.99))
	for i := 1; i < REGIONS; i++ {
		if landed[i] > 0 {
			fmt.Printf("Region %s converged after %v (%.0f events/s)\n", regions[i].name, landed[i], float64(N)/landed[i].Seconds())
		}
	}
	fmt.Printf("Hub history batches retained: %d\n", h.HistoryLen())
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
