package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/inboxbench/internal/api"
	"github.com/ignite/inboxbench/internal/config"
	"github.com/ignite/inboxbench/internal/pkg/logger"
	"github.com/ignite/inboxbench/internal/reconciler"
	"github.com/ignite/inboxbench/internal/report"
	"github.com/ignite/inboxbench/internal/snapshot"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	_ "github.com/ignite/inboxbench/internal/provider/instantly"
	_ "github.com/ignite/inboxbench/internal/provider/plusvibe"
	_ "github.com/ignite/inboxbench/internal/provider/smartlead"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	once := flag.Bool("once", false, "run every workspace once and exit")
	workspace := flag.String("workspace", "", "with -once, run only this workspace")
	migrate := flag.Bool("migrate", false, "create the snapshot table and exit")
	flag.Parse()

	log.Println("Starting Inbox Bench...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if *migrate && cfg.Store.Type != "postgres" {
		log.Fatalf("-migrate requires store.type postgres, got %q", cfg.Store.Type)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		defer db.Close()
		log.Println("Connected to database")
	}

	redisClient, err := openRedis(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Println("Connected to Redis")
	}

	store, err := buildStore(ctx, cfg.Store, db)
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
	}
	if *migrate {
		log.Println("Snapshot table ready")
		return
	}

	archive, err := buildArchive(ctx, cfg, redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize report archive: %v", err)
	}
	notifiers, err := buildNotifiers(ctx, cfg.Report)
	if err != nil {
		log.Fatalf("Failed to initialize report delivery: %v", err)
	}
	renderer, err := report.NewRenderer()
	if err != nil {
		log.Fatalf("Failed to load report template: %v", err)
	}

	opts := []reconciler.Option{
		reconciler.WithReporter(report.NewReporter(renderer, archive, notifiers...)),
		reconciler.WithLockBackends(redisClient, db),
	}
	if store != nil {
		opts = append(opts, reconciler.WithStore(store))
	}
	runner, err := reconciler.NewRunner(cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize reconciler: %v", err)
	}
	log.Printf("Reconciler ready: %d workspace(s), dry_run=%v", len(cfg.Workspaces), cfg.Reconciler.DryRun)

	if *once {
		os.Exit(runOnce(ctx, runner, *workspace))
	}

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg.Server, runner, store, archive)
		go func() {
			log.Printf("API listening on %s:%d", cfg.Server.GetHost(), cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("API server failed: %v", err)
			}
		}()
	}

	schedule(ctx, cfg.Schedule, runner)

	log.Println("Shutting down...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("API shutdown: %v", err)
		}
		cancel()
	}
	runner.Wait()
	log.Println("Inbox Bench stopped")
}

func runOnce(ctx context.Context, runner *reconciler.Runner, workspace string) int {
	if workspace != "" {
		if _, err := runner.Run(ctx, workspace); err != nil {
			log.Printf("Run failed for %s: %v", workspace, err)
			return 1
		}
		return 0
	}
	code := 0
	for _, res := range runner.RunAll(ctx) {
		if res == nil || len(res.Errors) > 0 {
			code = 1
		}
	}
	return code
}

// schedule runs every workspace once a day at the configured time until ctx
// is cancelled.
func schedule(ctx context.Context, sc config.ScheduleConfig, runner *reconciler.Runner) {
	for {
		next, err := sc.Next(time.Now())
		if err != nil {
			log.Printf("Schedule disabled: %v", err)
			<-ctx.Done()
			return
		}
		log.Printf("Next run at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			runner.RunAll(ctx)
		}
	}
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func buildStore(ctx context.Context, sc config.StoreConfig, db *sql.DB) (snapshot.Store, error) {
	switch sc.Type {
	case "postgres":
		store := snapshot.NewPostgresStore(db, sc.Table)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	case "postgrest":
		return snapshot.NewPostgRESTStore(sc.PostgRESTURL, sc.PostgRESTKey, sc.Table, nil), nil
	case "dynamodb":
		return snapshot.NewDynamoStoreFromConfig(ctx, sc.Table, sc.Region, sc.AWSProfile)
	default:
		log.Println("No state store configured; snapshots and volume drift disabled")
		return nil, nil
	}
}

func buildArchive(ctx context.Context, cfg *config.Config, client *redis.Client) (report.Archive, error) {
	switch cfg.Report.Archive {
	case "redis":
		return report.NewRedisArchive(client, 0), nil
	case "s3":
		region := cfg.Report.S3Region
		if region == "" {
			region = cfg.Report.SESRegion
		}
		return report.NewS3ArchiveFromConfig(ctx, cfg.Report.S3Bucket, region, cfg.Report.AWSProfile)
	default:
		return report.NewMemoryArchive(), nil
	}
}

func buildNotifiers(ctx context.Context, rc config.ReportConfig) ([]report.Notifier, error) {
	var notifiers []report.Notifier
	if rc.SlackWebhookURL != "" {
		notifiers = append(notifiers, report.NewSlackNotifier(rc.SlackWebhookURL, nil))
		log.Println("Slack delivery enabled")
	}
	if to := splitList(rc.EmailTo); len(to) > 0 && rc.EmailFrom != "" {
		mailer, err := report.NewSESMailerFromKeys(ctx, rc.SESRegion, rc.SESAccessKey, rc.SESSecretKey, rc.EmailFrom, to)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, mailer)
		log.Printf("Email delivery enabled for %d recipient(s)", len(to))
	}
	return notifiers, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
