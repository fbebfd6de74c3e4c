package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "tasksync/app/configs"
	"tasksync/app/core/activity"
	"tasksync/app/core/db"
	"tasksync/app/core/dispatch"
	"tasksync/app/core/interaction/console"
	"tasksync/app/core/mutation"
	"tasksync/app/core/notify"
	"tasksync/app/core/persistence"
	"tasksync/app/core/sweep"
	"tasksync/app/core/task"
	"tasksync/app/pkg/logger"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("tasksync starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB(cfg.Store.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	backend, err := persistence.OpenBackend(cfg.Store.Backend, cfg.Store.PostgresDSN, database)
	if err != nil {
		logger.Error("Failed to open %s backend: %v", cfg.Store.Backend, err)
		os.Exit(1)
	}
	defer backend.Close()
	adapter := backend.Adapter
	recorder := activity.NewSQLiteRecorder(database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := task.NewStore()
	hydrateCtx, hydrateCancel := context.WithTimeout(ctx, 30*time.Second)
	tasks, err := backend.Loader.LoadAll(hydrateCtx)
	hydrateCancel()
	if err != nil {
		logger.Error("Failed to hydrate store: %v", err)
		os.Exit(1)
	}
	for _, item := range tasks {
		if err := store.Insert(item); err != nil {
			logger.Error("Failed to hydrate task %s: %v", item.ID, err)
			os.Exit(1)
		}
	}
	logger.Info("Store hydrated with %d tasks", store.Len())

	pool := dispatch.New(cfg.Persistence.Buffer)
	if err := pool.Start(ctx, cfg.Persistence.Workers); err != nil {
		logger.Error("Failed to start dispatch pool: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := pool.Stop(10 * time.Second); err != nil {
			logger.Error("Dispatch pool drain timeout: %v", err)
		}
	}()

	notifier := notify.LogDispatcher{}
	opts := mutation.EngineOptions{
		Timeout:         time.Duration(cfg.Persistence.TimeoutSec) * time.Second,
		Retries:         cfg.Persistence.MaxRetries,
		FollowUpDefault: time.Duration(cfg.FollowUp.DefaultHours) * time.Hour,
	}
	engine := mutation.NewEngine(store, adapter, recorder, notifier, pool, opts)
	reorder := mutation.NewReorderCoordinator(store, adapter, recorder, pool, opts)
	merger := mutation.NewMergeResolver(store, adapter, recorder, engine, pool, opts)
	bulk := mutation.NewBulkCoordinator(engine)

	sweeper := sweep.New(store, engine, notifier, time.Duration(cfg.Sweep.IntervalSec)*time.Second)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("Failed to start sweeper: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := sweeper.Stop(3 * time.Second); err != nil {
			logger.Error("Sweeper shutdown timeout: %v", err)
		}
	}()

	ui := console.New(store, engine, reorder, merger, bulk, recorder, console.Options{
		Actor:        cfg.Console.Actor,
		DefaultScope: cfg.Console.DefaultScope,
		In:           os.Stdin,
		Out:          os.Stdout,
		Creation: func(t task.Task) error {
			saveCtx, saveCancel := context.WithTimeout(ctx, opts.Timeout)
			defer saveCancel()
			return backend.Loader.SaveTask(saveCtx, t)
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ui.Run(ctx); err != nil {
			logger.Error("Console crashed: %v", err)
		}
	}()

	logger.Info("tasksync is ready.")
	fmt.Println("- Console: interactive, type 'help'")
	fmt.Printf("- Data dir: %s (backend: %s)\n", cfg.Store.DataDir, cfg.Store.Backend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Received signal: %v. Shutting down...", sig)
	case <-done:
		logger.Info("Console exited. Shutting down...")
	}
	cancel()
}
