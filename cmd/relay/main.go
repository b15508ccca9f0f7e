// Command relay runs the full mail relay: the HTTP submission/status API,
// the queue proxy guarding this shard's envelope store, a pool of
// delivery agents, and the retention cleaner, all sharing one lifetime and
// shutting down together on SIGINT/SIGTERM, grounded on the teacher's
// cmd/worker/main.go init-then-signal-wait shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/wadcom/minimailgun/internal/capability"
	"github.com/wadcom/minimailgun/internal/capability/dns"
	"github.com/wadcom/minimailgun/internal/capability/smtp"
	"github.com/wadcom/minimailgun/internal/capability/staticmx"
	"github.com/wadcom/minimailgun/internal/clock"
	"github.com/wadcom/minimailgun/internal/config"
	"github.com/wadcom/minimailgun/internal/delivery"
	"github.com/wadcom/minimailgun/internal/httpapi"
	"github.com/wadcom/minimailgun/internal/pkg/distlock"
	"github.com/wadcom/minimailgun/internal/pkg/logger"
	"github.com/wadcom/minimailgun/internal/queueproxy"
	"github.com/wadcom/minimailgun/internal/retention"
	"github.com/wadcom/minimailgun/internal/status"
	"github.com/wadcom/minimailgun/internal/store/postgres"
	"github.com/wadcom/minimailgun/internal/submission"
)

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	if err := ensureSchema(db); err != nil {
		logger.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	st := postgres.New(db, clock.Real{}, cfg.ShardIndex, cfg.ShardCount)

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	recovered, err := st.RecoverStale(recoverCtx)
	recoverCancel()
	if err != nil {
		logger.Error("startup recovery sweep failed", "error", err)
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Warn("startup recovery sweep cleared stuck envelopes", "count", recovered)
	}

	redisClient := newRedisClient(cfg.Store.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	lockKey := fmt.Sprintf("minimailgun:shard:%d", cfg.ShardIndex)
	lock := distlock.NewLock(redisClient, db, lockKey, 30*time.Second)

	proxy := queueproxy.New(st, lock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := proxy.Start(ctx); err != nil {
		logger.Error("queue proxy failed to start", "error", err)
		os.Exit(1)
	}

	resolver, err := buildResolver(cfg.StaticMXConfig)
	if err != nil {
		logger.Error("static MX config invalid", "error", err)
		os.Exit(1)
	}
	smtpClient := smtp.New(cfg.SMTPPort, 30*time.Second)

	agent := delivery.New(proxy, resolver, smtpClient, delivery.Config{
		Workers:       cfg.DeliveryThreads,
		MaxAttempts:   cfg.MaxDeliveryAttempts,
		RetryInterval: cfg.RetryIntervalSeconds,
	})
	agent.Start()

	cleaner := retention.New(proxy, time.Duration(cfg.CleanupIntervalSeconds)*time.Second, cfg.RetentionPeriodSeconds)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleaner.Run(ctx)
	}()

	clients, err := httpapi.LoadClientRegistry(cfg.ClientsFile)
	if err != nil {
		logger.Error("client registry load failed", "error", err)
		os.Exit(1)
	}
	handlers := httpapi.New(clients, submission.New(proxy), status.New(proxy))
	health := httpapi.NewHealthChecker(db, redisClient)
	router := httpapi.NewRouter(handlers, health)

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		logger.Error("preflight port check failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			if err := clients.Reload(); err != nil {
				logger.Error("client registry reload failed", "error", err)
				continue
			}
			logger.Info("client registry reloaded")
		}
	}()

	go func() {
		logger.Info("relay: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	logger.Info("relay: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	agent.Stop()
	cancel()
	wg.Wait()

	proxy.Stop(context.Background())

	logger.Info("relay: stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func ensureSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, postgres.SchemaDDL)
	return err
}

func newRedisClient(redisURL string) *redis.Client {
	if redisURL == "" {
		logger.Info("redis not configured, using Postgres advisory locks for shard exclusivity")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed, falling back to Postgres advisory locks", "error", err)
		client.Close()
		return nil
	}
	return client
}

func buildResolver(staticMXConfig string) (capability.MXResolver, error) {
	if staticMXConfig == "" {
		return dns.New(), nil
	}
	return staticmx.Parse(staticMXConfig)
}

// checkPortAvailable is used before binding the real listener so a stale
// process squatting on the port fails fast with a clear message instead of
// ListenAndServe's generic "address already in use".
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (%s): %w", port, addr, err)
	}
	return ln.Close()
}
