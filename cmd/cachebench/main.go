package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/eyalp7/SyncSphere/config"
	"github.com/eyalp7/SyncSphere/internal/cache"
	"github.com/eyalp7/SyncSphere/internal/model"
	"github.com/eyalp7/SyncSphere/internal/queue"
	"github.com/eyalp7/SyncSphere/internal/service"
	"github.com/eyalp7/SyncSphere/pkg/database"
)

// 三个用户各有 FRIENDS 个好友，好友集合两两部分重叠
func main() {
	ctx := context.Background()

	USERS := envInt("USERS", 20000)
	FRIENDS := envInt("FRIENDS", 5000)
	REQS := envInt("REQS", 9000)
	// 每 INVALIDATE 次读取模拟一次好友关系变化，0 表示不变化
	INVALIDATE := envInt("INVALIDATE", 0)

	dbCfg := config.DatabaseConfig{Driver: "postgres", DSN: os.Getenv("DATABASE_URL"), LogLevel: "silent"}
	if dbCfg.DSN == "" {
		dir := must(os.MkdirTemp("", "cachebench-"))
		defer os.RemoveAll(dir)
		dbCfg = config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "bench.db"), LogLevel: "silent"}
	}
	db := must(database.Open(dbCfg))
	defer database.Close(db)

	mustDo(db.Exec("DROP TABLE IF EXISTS friendships").Error)
	mustDo(db.Exec("DROP TABLE IF EXISTS users").Error)
	mustDo(database.Migrate(db))

	fmt.Println("Setting up test data...")
	seed(db, USERS, FRIENDS)
	fmt.Printf("Test data ready: %d users, 3 readers with %d friends each (%s)\n", USERS, FRIENDS, dbCfg.Driver)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
	}

	fc := cache.NewFriendLists(client, 10*time.Minute)
	plain := service.NewFriendService(db, queue.NewMemory())
	cached := service.NewFriendService(db, queue.NewMemory()).WithCache(fc)

	readers := makeReaders(REQS)
	noCache := runScenario(ctx, plain, nil, readers, false, 0, client)
	withCache := runScenario(ctx, cached, fc, readers, true, 0, client)
	fmt.Println("\nFriend list latency")
	report("No cache", noCache)
	report("Redis cache", withCache)
	if INVALIDATE > 0 {
		churn := runScenario(ctx, cached, fc, readers, true, INVALIDATE, client)
		report(fmt.Sprintf("Cache, churn/%d", INVALIDATE), churn)
	}
}

func seed(db *gorm.DB, users, friends int) {
	rows := make([]model.User, users)
	for i := range rows {
		rows[i] = model.User{
			ID:       int64(i + 1),
			Username: fmt.Sprintf("user_%d", i+1),
			Email:    fmt.Sprintf("user_%d@example.com", i+1),
		}
	}
	mustDo(db.CreateInBatches(&rows, 1000).Error)

	// reader r 的好友：从 offset 开始的 friends 个用户，跳过 1..3
	var pairs []model.Friendship
	for r := int64(1); r <= 3; r++ {
		offset := 3 + int(r-1)*friends/2
		for i := 0; i < friends; i++ {
			fid := int64((offset+i)%(users-3) + 4)
			pairs = append(pairs,
				model.Friendship{UserID: r, FriendID: fid},
				model.Friendship{UserID: fid, FriendID: r},
			)
		}
	}
	mustDo(db.CreateInBatches(&pairs, 1000).Error)
}

type scenarioResult struct {
	durations   []time.Duration
	counters    cache.FriendListCounters
	cacheKeys   int
	memoryBytes int64
}

func runScenario(ctx context.Context, svc *service.FriendService, fc *cache.FriendLists, readers []int64, warm bool, invalidateEvery int, client *redis.Client) scenarioResult {
	client.FlushAll(ctx)
	fc.ResetCounters()

	if warm {
		fmt.Print("  Warming cache...")
		for _, id := range []int64{1, 2, 3} {
			must(svc.Friends(ctx, id))
		}
		fmt.Println(" done")
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(readers))
	for i, id := range readers {
		if invalidateEvery > 0 && i%invalidateEvery == 0 {
			mustDo(fc.Invalidate(ctx, id))
		}
		start := time.Now()
		must(svc.Friends(ctx, id))
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	keys, _ := client.Keys(ctx, "friends:*").Result()
	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{
		durations:   out,
		counters:    fc.Counters(),
		cacheKeys:   len(keys),
		memoryBytes: memBytes,
	}
}

func report(name string, r scenarioResult) {
	fmt.Printf("%-18s avg=%v p95=%v p99=%v db_loads=%d hits=%d cache_keys=%d mem=%s\n",
		name, avg(r.durations), pct(r.durations, 0.95), pct(r.durations, 0.99),
		r.counters.Loads, r.counters.Hits, r.cacheKeys, formatBytes(r.memoryBytes))
}

// parseRedisMemory extracts used_memory from Redis INFO
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func makeReaders(n int) []int64 {
	out := make([]int64, n)
	rnd := rand.New(rand.NewSource(42))
	for i := range out {
		out[i] = int64(1 + rnd.Intn(3))
	}
	return out
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
