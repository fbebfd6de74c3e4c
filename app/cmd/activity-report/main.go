package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	config "tasksync/app/configs"
	"tasksync/app/core/activity"
	"tasksync/app/core/db"
)

type activityReport struct {
	GeneratedAt string           `json:"generated_at"`
	DataDir     string           `json:"data_dir"`
	Limit       int              `json:"limit"`
	TaskFilter  string           `json:"task_filter,omitempty"`
	Count       int              `json:"count"`
	Events      []activity.Event `json:"events"`
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	limit := flag.Int("limit", 50, "max number of activity entries")
	taskID := flag.String("task", "", "only show entries for this task id")
	outputPath := flag.String("output", "-", "path to write the JSON report (use - for stdout)")
	flag.Parse()

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
			os.Exit(2)
		}
		cfg = config.DefaultConfig()
	}

	database, err := db.NewSQLiteDB(cfg.Store.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
		os.Exit(2)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	recorder := activity.NewSQLiteRecorder(database)
	events, err := recorder.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
		os.Exit(2)
	}
	if *taskID != "" {
		filtered := events[:0]
		for _, e := range events {
			if e.TaskID == *taskID {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	report := activityReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		DataDir:     cfg.Store.DataDir,
		Limit:       *limit,
		TaskFilter:  *taskID,
		Count:       len(events),
		Events:      events,
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
		os.Exit(2)
	}
	payload = append(payload, '\n')

	if *outputPath == "-" {
		os.Stdout.Write(payload)
		return
	}
	if err := os.MkdirAll(filepath.Dir(*outputPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
		os.Exit(2)
	}
	if err := os.WriteFile(*outputPath, payload, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "activity report failed: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("activity report written to %s (%d entries)\n", *outputPath, len(events))
}
