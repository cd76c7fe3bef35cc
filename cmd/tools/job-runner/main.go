// Package main implements the job-runner CLI tool for invoking the periodic
// jobs directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development against LocalStack, manual
// backfilling, and operational debugging. It wires the same components the
// Lambda entrypoints use and runs them either once or on an in-process cron
// schedule standing in for EventBridge. The seed job writes a demo user with
// one event per type and the unseed job removes those events (the user item
// is kept), so a full sweep -> send -> monitor cycle can be exercised locally.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=sweep
//	go run ./cmd/tools/job-runner --job=health --reference-time=2026-06-15T09:00:00Z
//	go run ./cmd/tools/job-runner --job=redrive --cron="*/2 * * * *"
//	go run ./cmd/tools/job-runner --job=seed --seed-due
//	go run ./cmd/tools/job-runner --dry-run --job=unseed
//	go run ./cmd/tools/job-runner --list
//
// In --dry-run mode the tool prints the job payload it would execute as JSON
// and exits without touching AWS. When --cron is set, an ops HTTP server is
// also started (default :8081) exposing /healthz and /report (the latest
// health monitor report).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"greeter/internal/config"
	"greeter/internal/dlq"
	"greeter/internal/firetime"
	"greeter/internal/monitor"
	"greeter/internal/queue"
	"greeter/internal/scheduler"
	"greeter/internal/store"
	"greeter/internal/types"
	"greeter/internal/webhook"
)

// validJobs maps job names to their descriptions for --list.
var validJobs = map[string]string{
	"sweep":   "Run one scheduler sweep over the due-events index",
	"redrive": "Probe webhook health and redrive one DLQ batch",
	"health":  "Run the health monitor checks and print the report",
	"seed":    "Write a demo user with one event per event type",
	"unseed":  "Delete the demo user's seeded events",
}

// seedParams holds the record values written by the seed job.
type seedParams struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Timezone  string `json:"timezone"`
	Date      string `json:"date"`
	LocalTime string `json:"notify_local_time"`
	// DueNow backdates notify_utc to the reference instant so the next
	// sweep picks the events up immediately.
	DueNow bool `json:"due_now"`
}

// dryRunPayload is what --dry-run prints instead of executing.
type dryRunPayload struct {
	Job           string      `json:"job"`
	Cron          string      `json:"cron,omitempty"`
	ReferenceTime string      `json:"reference_time,omitempty"`
	Seed          *seedParams `json:"seed,omitempty"`
}

// runner holds the wired components and the latest health report for the
// ops server.
type runner struct {
	sweeper   *scheduler.Sweeper
	processor *dlq.Processor
	monitor   *monitor.Monitor
	store     *store.Store
	clock     types.Clock
	seed      seedParams
	logger    *slog.Logger

	mu         sync.RWMutex
	lastReport *monitor.Report
}

func main() {
	jobFlag := flag.String("job", "", "Job to execute (sweep, redrive, health, seed, unseed)")
	cronFlag := flag.String("cron", "", "Cron spec to run the job on a schedule (empty = run once)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g. 2026-06-15T09:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available jobs and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the job payload as JSON without executing")
	opsAddrFlag := flag.String("ops-addr", ":8081", "Ops HTTP listen address for scheduled mode (empty disables)")

	seed := seedParams{}
	flag.StringVar(&seed.UserID, "seed-id", "demo-user", "User id written by the seed job")
	flag.StringVar(&seed.FirstName, "seed-first", "Ada", "First name written by the seed job")
	flag.StringVar(&seed.LastName, "seed-last", "Lovelace", "Last name written by the seed job")
	flag.StringVar(&seed.Timezone, "seed-timezone", "UTC", "IANA timezone written by the seed job")
	flag.StringVar(&seed.Date, "seed-date", "1990-06-15", "Anniversary date (YYYY-MM-DD) written by the seed job")
	flag.StringVar(&seed.LocalTime, "seed-time", "09:00", "Local notify time (HH:MM) written by the seed job")
	flag.BoolVar(&seed.DueNow, "seed-due", false, "Backdate the seeded events so they are immediately due")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke the periodic greeter jobs directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available jobs.\n")
	}
	flag.Parse()

	if *listFlag {
		printAvailableJobs()
		return
	}

	if *jobFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --job is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validJobs[*jobFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown job %q\n\n", *jobFlag)
		printAvailableJobs()
		os.Exit(1)
	}

	if *dryRunFlag {
		payload := dryRunPayload{
			Job:           *jobFlag,
			Cron:          *cronFlag,
			ReferenceTime: *refTimeFlag,
		}
		if *jobFlag == "seed" || *jobFlag == "unseed" {
			payload.Seed = &seed
		}
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var clock types.Clock = types.RealClock{}
	if *refTimeFlag != "" {
		ref, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time: %v\n", err)
			os.Exit(1)
		}
		clock = types.FixedClock{T: ref.UTC()}
	}

	r, err := buildRunner(clock, seed, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if *cronFlag == "" {
		if err := r.runJob(context.Background(), *jobFlag); err != nil {
			logger.Error("job failed", "job", *jobFlag, "error", err)
			os.Exit(1)
		}
		return
	}

	r.runScheduled(*jobFlag, *cronFlag, *opsAddrFlag)
}

// buildRunner wires the store, queue, webhook, and job components against
// the configured AWS environment.
func buildRunner(clock types.Clock, seed seedParams, logger *slog.Logger) (*runner, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	endpoint := cfg.AWS.EndpointURL
	ddbClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	gateway, err := queue.New(ctx, sqsClient, cfg.Queue.GreeterQueueName, cfg.Queue.DLQQueueName, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(ddbClient, cfg.Store.UsersTable)
	hook := webhook.New(cfg.Webhook, logger)

	return &runner{
		sweeper: scheduler.NewSweeper(scheduler.SweeperConfig{
			Store:  st,
			Queue:  gateway,
			Clock:  clock,
			Logger: logger,
		}),
		processor: dlq.New(dlq.Config{
			Queue:  gateway,
			Prober: hook,
			Clock:  clock,
			Logger: logger,
		}),
		monitor: monitor.New(monitor.Config{
			Store:  st,
			Clock:  clock,
			Logger: logger,
		}),
		store:  st,
		clock:  clock,
		seed:   seed,
		logger: logger,
	}, nil
}

// runJob executes one job and prints its result as JSON to stdout.
func (r *runner) runJob(ctx context.Context, job string) error {
	var result any
	var err error

	switch job {
	case "sweep":
		result, err = r.sweeper.Sweep(ctx)
	case "redrive":
		result, err = r.processor.Run(ctx)
	case "health":
		var report *monitor.Report
		report, err = r.monitor.Run(ctx)
		if report != nil {
			r.mu.Lock()
			r.lastReport = report
			r.mu.Unlock()
		}
		result = report
	case "seed":
		result, err = r.runSeed(ctx)
	case "unseed":
		result, err = r.runUnseed(ctx)
	}
	if err != nil {
		return err
	}

	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(out))
	return nil
}

// seededEventTypes is the set of event types the seed job writes and the
// unseed job removes.
var seededEventTypes = []types.EventType{types.EventBirthday, types.EventAnniversary}

// runSeed writes the demo user and one event per event type. With --seed-due
// the events are backdated to the reference instant so the next sweep picks
// them up; otherwise notify_utc is the natural next occurrence.
func (r *runner) runSeed(ctx context.Context) (any, error) {
	now := r.clock.Now().UTC()

	user := &types.User{
		UserID:    r.seed.UserID,
		FirstName: r.seed.FirstName,
		LastName:  r.seed.LastName,
		Timezone:  r.seed.Timezone,
	}
	if err := r.store.PutUser(ctx, user, now); err != nil {
		return nil, err
	}

	events := make([]*types.Event, 0, len(seededEventTypes))
	for _, et := range seededEventTypes {
		notify := now
		if !r.seed.DueNow {
			next, err := firetime.Next(r.seed.Date, r.seed.Timezone, r.seed.LocalTime, now)
			if err != nil {
				return nil, err
			}
			notify = next
		}
		events = append(events, &types.Event{
			UserID:          r.seed.UserID,
			Type:            et,
			Date:            r.seed.Date,
			NotifyLocalTime: r.seed.LocalTime,
			NotifyUTC:       notify,
			Label:           "seeded by job-runner",
		})
	}
	if err := r.store.BatchPutEvents(ctx, events, now); err != nil {
		return nil, err
	}

	notifyAt := make([]string, 0, len(events))
	for _, e := range events {
		notifyAt = append(notifyAt, store.FormatNotifyUTC(e.NotifyUTC))
	}
	return map[string]any{
		"user_id":       r.seed.UserID,
		"events_seeded": len(events),
		"notify_utc":    notifyAt,
	}, nil
}

// runUnseed removes the seeded events. The user metadata item is retained:
// it is inert without events and keeping it makes repeated seed/unseed
// cycles idempotent on the user row.
func (r *runner) runUnseed(ctx context.Context) (any, error) {
	if err := r.store.BatchDeleteEvents(ctx, r.seed.UserID, seededEventTypes); err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":        r.seed.UserID,
		"events_deleted": len(seededEventTypes),
	}, nil
}

// runScheduled runs the job on a cron schedule alongside the ops server
// until interrupted.
func (r *runner) runScheduled(job, cronSpec, opsAddr string) {
	c := cron.New()
	_, err := c.AddFunc(cronSpec, func() {
		if err := r.runJob(context.Background(), job); err != nil {
			r.logger.Error("scheduled job failed", "job", job, "error", err)
		}
	})
	if err != nil {
		r.logger.Error("invalid cron spec", "spec", cronSpec, "error", err)
		os.Exit(1)
	}

	var srv *http.Server
	if opsAddr != "" {
		srv = &http.Server{Addr: opsAddr, Handler: r.opsRouter()}
		go func() {
			r.logger.Info("ops server listening", "addr", opsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("ops server failed", "error", err)
			}
		}()
	}

	c.Start()
	r.logger.Info("job scheduled", "job", job, "cron", cronSpec)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	r.logger.Info("shutting down")
	cronCtx := c.Stop()
	<-cronCtx.Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// opsRouter builds the ops HTTP surface: liveness plus the latest health
// report.
func (r *runner) opsRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	router.Get("/report", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		report := r.lastReport
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if report == nil {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no report yet"})
			return
		}
		_ = json.NewEncoder(w).Encode(report)
	})

	return router
}

// printAvailableJobs prints the job table sorted by name.
func printAvailableJobs() {
	names := make([]string, 0, len(validJobs))
	for name := range validJobs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available jobs:")
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, validJobs[name])
	}
}
