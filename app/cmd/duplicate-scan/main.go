package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode"

	config "tasksync/app/configs"
	"tasksync/app/core/activity"
	"tasksync/app/core/db"
	"tasksync/app/core/dispatch"
	"tasksync/app/core/mutation"
	"tasksync/app/core/persistence"
	"tasksync/app/core/task"
)

type duplicatePair struct {
	ScopeID        string `json:"scope_id"`
	NormalizedText string `json:"normalized_text"`
	KeepID         string `json:"keep_id"`
	KeepText       string `json:"keep_text"`
	OtherID        string `json:"other_id"`
	OtherText      string `json:"other_text"`
	Merged         bool   `json:"merged"`
	MergeError     string `json:"merge_error,omitempty"`
}

type scanReport struct {
	GeneratedAt string          `json:"generated_at"`
	Scope       string          `json:"scope,omitempty"`
	TasksSeen   int             `json:"tasks_seen"`
	Pairs       []duplicatePair `json:"pairs"`
	Applied     bool            `json:"applied"`
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	scope := flag.String("scope", "", "limit the scan to one list scope")
	apply := flag.Bool("apply", false, "merge each detected pair instead of only reporting")
	flag.Parse()

	cfg, err := config.LoadConfigFile(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "duplicate scan failed: %v\n", err)
			os.Exit(2)
		}
		cfg = config.DefaultConfig()
	}

	database, err := db.NewSQLiteDB(cfg.Store.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duplicate scan failed: %v\n", err)
		os.Exit(2)
	}
	defer database.Close()

	adapter := persistence.NewSQLiteAdapter(database)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tasks, err := adapter.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duplicate scan failed: %v\n", err)
		os.Exit(2)
	}
	if *scope != "" {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.ScopeID == *scope {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}

	pairs := findDuplicates(tasks)
	if *apply && len(pairs) > 0 {
		applyMerges(ctx, cfg, database, adapter, tasks, pairs)
	}

	report := scanReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Scope:       *scope,
		TasksSeen:   len(tasks),
		Pairs:       pairs,
		Applied:     *apply,
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "duplicate scan failed: %v\n", err)
		os.Exit(2)
	}
	os.Stdout.Write(append(payload, '\n'))
}

// findDuplicates pairs tasks in the same scope whose normalized text
// matches. The older task of each pair is kept; chains of three or more
// collapse pairwise, oldest always kept.
func findDuplicates(tasks []task.Task) []duplicatePair {
	groups := make(map[string][]task.Task)
	for _, t := range tasks {
		key := t.ScopeID + "\x00" + normalizeText(t.Text)
		groups[key] = append(groups[key], t)
	}

	var pairs []duplicatePair
	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		keep := group[0]
		_, norm, _ := strings.Cut(key, "\x00")
		for _, other := range group[1:] {
			pairs = append(pairs, duplicatePair{
				ScopeID:        keep.ScopeID,
				NormalizedText: norm,
				KeepID:         keep.ID,
				KeepText:       keep.Text,
				OtherID:        other.ID,
				OtherText:      other.Text,
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ScopeID != pairs[j].ScopeID {
			return pairs[i].ScopeID < pairs[j].ScopeID
		}
		return pairs[i].KeepID < pairs[j].KeepID
	})
	return pairs
}

func normalizeText(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func applyMerges(ctx context.Context, cfg config.Config, database *db.DB, adapter *persistence.SQLiteAdapter, tasks []task.Task, pairs []duplicatePair) {
	store := task.NewStore()
	for _, t := range tasks {
		if err := store.Insert(t); err != nil {
			fmt.Fprintf(os.Stderr, "duplicate scan failed: hydrate %s: %v\n", t.ID, err)
			os.Exit(2)
		}
	}

	pool := dispatch.New(cfg.Persistence.Buffer)
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := pool.Start(poolCtx, cfg.Persistence.Workers); err != nil {
		fmt.Fprintf(os.Stderr, "duplicate scan failed: %v\n", err)
		os.Exit(2)
	}
	defer pool.Stop(10 * time.Second)

	recorder := activity.NewSQLiteRecorder(database)
	opts := mutation.EngineOptions{
		Timeout: time.Duration(cfg.Persistence.TimeoutSec) * time.Second,
		Retries: cfg.Persistence.MaxRetries,
	}
	engine := mutation.NewEngine(store, adapter, recorder, nil, pool, opts)
	merger := mutation.NewMergeResolver(store, adapter, recorder, engine, pool, opts)

	for i := range pairs {
		h, err := merger.Merge(ctx, "duplicate-scan", pairs[i].KeepID, pairs[i].OtherID)
		if err != nil {
			pairs[i].MergeError = err.Error()
			continue
		}
		result, err := h.Wait(ctx)
		if err != nil {
			pairs[i].MergeError = err.Error()
			continue
		}
		if result.Err != nil {
			pairs[i].MergeError = result.Err.Error()
			continue
		}
		pairs[i].Merged = true
	}
}
