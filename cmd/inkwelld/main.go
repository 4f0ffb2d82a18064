// Command inkwelld runs the inkwell agent daemon: the task worker pool, the
// reminder scheduler and a line-based REPL for local use.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/classify"
	"github.com/inkwell-app/inkwell/internal/config"
	"github.com/inkwell-app/inkwell/internal/dispatch"
	"github.com/inkwell-app/inkwell/internal/engine"
	"github.com/inkwell-app/inkwell/internal/enrich"
	"github.com/inkwell-app/inkwell/internal/memory"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/persona"
	"github.com/inkwell-app/inkwell/internal/queue"
	"github.com/inkwell-app/inkwell/internal/scheduler"
	"github.com/inkwell-app/inkwell/internal/store"
	"github.com/inkwell-app/inkwell/internal/telemetry"
	"github.com/inkwell-app/inkwell/internal/workflow"
)

func main() {
	daemon := flag.Bool("daemon", false, "run without the REPL (service mode)")
	owner := flag.String("owner", "local", "owner id used by the REPL")
	timezone := flag.String("tz", "", "IANA timezone hint for the REPL owner")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	homeDir, err := config.DefaultHomeDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}
	cfg, err := config.Load(homeDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Quiet || !*daemon)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup:", err)
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger, *daemon, *owner, *timezone); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, daemon bool, owner, timezone string) error {
	otelProvider, err := telemetry.InitOTel(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	eventBus := bus.New()

	// Notification fan-out: the bus always, Telegram when configured.
	var notifier notify.Notifier = &notify.BusNotifier{Bus: eventBus}
	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatIDs, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled", "error", err)
		} else {
			notifier = &notify.Multi{Notifiers: []notify.Notifier{notifier, tg}}
		}
	}

	// Memory: durable always, Redis fast tier when configured and reachable.
	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	memOpts := []memory.Option{
		memory.WithMissCounter(func(ctx context.Context) { metrics.FastTierMisses.Add(ctx, 1) }),
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		fast := memory.NewRedisTier(client, cfg.MaxHistory, cfg.HistoryTTL())
		if err := fast.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, running durable-only", "error", err)
		} else {
			memOpts = append(memOpts, memory.WithFastTier(fast))
			logger.Info("fast tier connected", "addr", cfg.Redis.Addr)
		}
	}
	mem := memory.New(memory.NewDurableTier(st, cfg.MaxHistory), cfg.MaxHistory, logger, memOpts...)

	// Task plumbing.
	taskQueue := queue.New(cfg.WorkerCount * 16)
	defer taskQueue.Close()
	tasks := engine.NewTaskService(st, taskQueue, eventBus, notifier, logger)

	// LLM-backed classifier (degrades to deterministic fallback without keys).
	classifier, err := classify.NewGenkitClassifier(ctx, classify.GenkitConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLMAPIKey(),
	}, otelProvider.Tracer, metrics, logger)
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}

	// Persona synthesis.
	personaSched := persona.NewScheduler(st, tasks,
		time.Duration(cfg.Persona.RefreshHours)*time.Hour,
		cfg.Persona.BootstrapMinChars, logger)

	// Enrichment pipeline.
	pipeline := enrich.New(st, []enrich.Step{
		&enrich.TaggingStep{Store: st},
		&enrich.ExtractionStep{Store: st},
		&enrich.IndexingStep{Store: st},
	}, mem, personaSched, notifier, eventBus, logger)

	// Dispatcher over the store-backed collaborators.
	dispatcher := dispatch.New(classifier, mem,
		&dispatch.StoreEntries{Store: st},
		&dispatch.StoreGoals{Store: st},
		&dispatch.StoreHabits{Store: st},
		&dispatch.StoreReminders{Store: st},
		&dispatch.StoreQueries{Store: st},
		st, logger)

	// Workflows.
	registry := workflow.NewRegistry()
	if err := registry.Register(dispatch.NewMessageWorkflow(st, dispatcher, pipeline, notifier, logger)); err != nil {
		return fmt.Errorf("register message workflow: %w", err)
	}
	if err := registry.Register(persona.NewSynthesisWorkflow(st, personaSched, classifier, notifier, eventBus, logger)); err != nil {
		return fmt.Errorf("register synthesis workflow: %w", err)
	}
	logger.Info("workflows registered", "types", registry.Types())

	// Worker pool.
	pool := engine.NewPool(st, registry, taskQueue, eventBus, notifier, logger, engine.PoolConfig{
		WorkerCount: cfg.WorkerCount,
		TaskTimeout: cfg.TaskTimeout(),
	}, otelProvider.Tracer, metrics)
	pool.Start(ctx)

	// Reminder scheduler.
	reminders := scheduler.New(scheduler.Config{
		Store:    st,
		Bus:      eventBus,
		Notifier: notifier,
		Logger:   logger,
		Interval: cfg.ReminderTick(),
	})
	reminders.Start(ctx)
	defer reminders.Stop()

	logger.Info("inkwelld started",
		"version", telemetry.Version,
		"home", cfg.HomeDir,
		"workers", cfg.WorkerCount)

	if daemon {
		<-ctx.Done()
	} else {
		repl(ctx, tasks, eventBus, owner, timezone)
	}

	logger.Info("shutdown signal received")
	pool.Wait()
	return nil
}

// repl reads lines from stdin, turns each into a message task and prints the
// task's terminal result.
func repl(ctx context.Context, tasks *engine.TaskService, eventBus *bus.Bus, owner, timezone string) {
	sub := eventBus.Subscribe("task.")
	defer eventBus.Unsubscribe(sub)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("inkwell ready. Type a message, Ctrl-D to quit.")
	pending := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			payload, _ := json.Marshal(dispatch.MessagePayload{Text: line, Timezone: timezone})
			task, err := tasks.Create(ctx, owner, dispatch.TaskTypeMessage, string(payload))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			pending[task.ID] = struct{}{}
		case ev := <-sub.Ch():
			printOutcome(ctx, tasks, owner, pending, ev)
		}
	}
}

func printOutcome(ctx context.Context, tasks *engine.TaskService, owner string, pending map[string]struct{}, ev bus.Event) {
	if ev.Topic != bus.TopicTaskCompleted && ev.Topic != bus.TopicTaskFailed {
		return
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	taskID, _ := payload["task_id"].(string)
	if _, mine := pending[taskID]; !mine {
		return
	}
	delete(pending, taskID)

	task, err := tasks.Get(ctx, owner, taskID)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if task.Status == store.TaskStatusFailed {
		fmt.Println("failed:", task.Error)
		return
	}
	var resp dispatch.MessageResponse
	if err := json.Unmarshal([]byte(task.Result), &resp); err != nil {
		fmt.Println("done")
		return
	}
	switch {
	case resp.Clarification != "":
		fmt.Println("?", resp.Clarification)
	case resp.Answer != "":
		fmt.Println(">", resp.Answer)
	default:
		fmt.Println(">", resp.Summary)
	}
}
