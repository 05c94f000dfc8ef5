// Command latch-bench measures lock throughput and wait latency under
// contention, against the standalone backend or a real Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/presets"
)

var (
	workers   = flag.Int("c", 16, "Concurrent workers")
	rounds    = flag.Int("n", 200, "Acquisitions per worker")
	names     = flag.Int("k", 4, "Distinct lock names")
	hold      = flag.Duration("hold", time.Millisecond, "Hold time per acquisition")
	ttl       = flag.Duration("ttl", time.Minute, "Lock TTL")
	wait      = flag.Duration("wait", time.Minute, "Acquire timeout")
	target    = flag.String("target", "standalone", "Target: standalone, redis")
	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis address")
)

func main() {
	flag.Parse()

	var (
		p   *lock.Provider
		err error
	)
	switch *target {
	case "standalone":
		p, err = presets.NewStandalone()
	case "redis":
		p, err = presets.NewRedis(presets.RedisOptions{Addr: *redisAddr})
	default:
		log.Fatalf("unknown target %q", *target)
	}
	if err != nil {
		log.Fatalf("provider: %v", err)
	}
	defer p.Close()

	var (
		mu        sync.Mutex
		latencies []time.Duration
	)
	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < *workers; i++ {
		worker := i
		g.Go(func() error {
			for j := 0; j < *rounds; j++ {
				name := fmt.Sprintf("bench-%d", (worker+j)%*names)
				t0 := time.Now()
				h, err := p.Acquire(ctx, name, lock.WithTTL(*ttl), lock.WithWait(*wait))
				if err != nil {
					return fmt.Errorf("acquire %s: %w", name, err)
				}
				waited := time.Since(t0)
				mu.Lock()
				latencies = append(latencies, waited)
				mu.Unlock()
				time.Sleep(*hold)
				if err := h.Release(ctx); err != nil {
					return fmt.Errorf("release %s: %w", name, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("bench: %v", err)
	}
	elapsed := time.Since(start)

	total := *workers * *rounds
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg := sum / time.Duration(len(latencies))
	p99 := latencies[len(latencies)*99/100]

	fmt.Printf("| %-12s | %-10s | %-12s | %-12s |\n", "Target", "Ops/sec", "Avg Wait", "P99 Wait")
	fmt.Println("|:---|:---|:---|:---|")
	fmt.Printf("| %-12s | %-10.0f | %-12s | %-12s |\n",
		*target, float64(total)/elapsed.Seconds(), avg, p99)
}
