package cmd

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bluquist/bluquist/kvstore"
	"github.com/bluquist/bluquist/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var loadtestOpts struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure session store throughput",
	Long: `Seed sessions into Redis, then run a lookup phase and a renew-and-persist
phase against them and report latency percentiles. Without --redis-addr an
in-process miniredis is used.`,
	RunE: runLoadtest,
}

func init() {
	f := loadtestCmd.Flags()
	f.IntVar(&loadtestOpts.sessions, "sessions", 10000, "number of sessions to seed")
	f.IntVar(&loadtestOpts.concurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&loadtestOpts.ops, "ops", 50000, "operations per phase")
	f.StringVar(&loadtestOpts.redisAddr, "redis-addr", "", "redis address; empty starts miniredis")
	rootCmd.AddCommand(loadtestCmd)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runLoadtest(cmd *cobra.Command, args []string) error {
	o := loadtestOpts
	if o.sessions <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("sessions, concurrency and ops must be > 0")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	addr := o.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	kv := kvstore.New(client, kvstore.Config{Prefix: "bluquist", Environment: "loadtest"}, "sessions")
	if err := kv.Register(ctx); err != nil {
		return err
	}
	store := session.NewStore(kv, 30*time.Minute)

	tokens := make([]string, o.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", o.sessions)
	startSeed := time.Now()
	for i := range tokens {
		token, err := store.StartSession(ctx, fmt.Sprintf("user-%d", i), "user", "10.0.0.1")
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		tokens[i] = token
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(o.ops, o.concurrency, func(r *rand.Rand) error {
		_, err := store.LookupSession(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	persist := runPhase(o.ops, o.concurrency, func(r *rand.Rand) error {
		sess, err := store.LookupSession(ctx, tokens[r.Intn(len(tokens))])
		if err != nil {
			return err
		}
		sess.Renew(time.Now(), store.TTL())
		return store.PersistSession(ctx, sess)
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "lookup", lookup)
	printStats(out, "persist", persist)
	return nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
