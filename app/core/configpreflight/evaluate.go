package configpreflight

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	config "tasksync/app/configs"
)

type Options struct {
	AllowMissingConfig bool
}

type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

type Gate struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

type Report struct {
	GeneratedAt       string  `json:"generated_at"`
	ConfigPath        string  `json:"config_path"`
	ConfigExists      bool    `json:"config_exists"`
	UsedDefaultConfig bool    `json:"used_default_config"`
	Status            string  `json:"status"`
	Checks            []Check `json:"checks"`
	Gate              Gate    `json:"gate"`
}

// EvaluatePath loads the raw config at configPath and runs every
// preflight check against it, without mutating the file on disk. Checks
// run before default clamping: an explicit value the runtime would
// silently rewrite fails the gate, a zero value that takes its default
// does not.
func EvaluatePath(configPath string, opts Options) Report {
	report := Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		ConfigPath:  strings.TrimSpace(configPath),
		Status:      "failed",
		Checks:      make([]Check, 0, 4),
		Gate: Gate{
			Passed:   false,
			Failures: []string{},
		},
	}

	if report.ConfigPath == "" {
		appendFailure(&report, "config path is required")
		appendCheck(&report, "config_load", false, "config path is empty")
		return finalize(report)
	}

	cfg, exists, usedDefault, loadErr := loadEffectiveConfig(report.ConfigPath, opts.AllowMissingConfig)
	report.ConfigExists = exists
	report.UsedDefaultConfig = usedDefault
	if loadErr != nil {
		appendFailure(&report, loadErr.Error())
		appendCheck(&report, "config_load", false, loadErr.Error())
		return finalize(report)
	}
	appendCheck(&report, "config_load", true, "config loaded")

	runChecks(&report, cfg)
	return finalize(report)
}

func runChecks(report *Report, cfg config.Config) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	check(report, "store_backend", backend == "" || validBackend(backend),
		fmt.Sprintf("backend %q would be rewritten to sqlite (must be sqlite or postgres)", cfg.Store.Backend))
	if backend == "postgres" {
		check(report, "postgres_dsn", strings.TrimSpace(cfg.Store.PostgresDSN) != "",
			"postgres backend requires postgres_dsn")
	}
	check(report, "persistence_timeout", cfg.Persistence.TimeoutSec >= 0,
		fmt.Sprintf("timeout_sec %d would be rewritten to its default", cfg.Persistence.TimeoutSec))
	check(report, "persistence_retries", cfg.Persistence.MaxRetries >= 0,
		fmt.Sprintf("max_retries %d would be rewritten to 0", cfg.Persistence.MaxRetries))
	check(report, "persistence_workers", cfg.Persistence.Workers >= 0,
		fmt.Sprintf("workers %d would be rewritten to its default", cfg.Persistence.Workers))
	check(report, "persistence_buffer", cfg.Persistence.Buffer >= 0,
		fmt.Sprintf("buffer %d would be rewritten to its default", cfg.Persistence.Buffer))
	check(report, "follow_up_default", cfg.FollowUp.DefaultHours >= 0,
		fmt.Sprintf("follow_up default_hours %d would be rewritten to its default", cfg.FollowUp.DefaultHours))
	check(report, "sweep_interval", cfg.Sweep.IntervalSec >= 0,
		fmt.Sprintf("sweep interval_sec %d would be rewritten to its default", cfg.Sweep.IntervalSec))
}

func check(report *Report, name string, passed bool, failMessage string) {
	if passed {
		appendCheck(report, name, true, "")
		return
	}
	appendCheck(report, name, false, failMessage)
	appendFailure(report, fmt.Sprintf("%s: %s", name, failMessage))
}

func validBackend(backend string) bool {
	return backend == "sqlite" || backend == "postgres"
}

func finalize(report Report) Report {
	if len(report.Gate.Failures) == 0 {
		report.Gate.Passed = true
		report.Status = "ok"
		return report
	}
	report.Gate.Passed = false
	report.Status = "failed"
	return report
}

func appendFailure(report *Report, failure string) {
	trimmed := strings.TrimSpace(failure)
	if trimmed == "" {
		return
	}
	report.Gate.Failures = append(report.Gate.Failures, trimmed)
}

func appendCheck(report *Report, name string, passed bool, message string) {
	report.Checks = append(report.Checks, Check{
		Name:    name,
		Passed:  passed,
		Message: strings.TrimSpace(message),
	})
}

func loadEffectiveConfig(configPath string, allowMissing bool) (config.Config, bool, bool, error) {
	stat, err := os.Stat(configPath)
	if err == nil {
		if stat.IsDir() {
			return config.Config{}, false, false, fmt.Errorf("config path is a directory: %s", configPath)
		}
		cfg, err := loadRawConfig(configPath)
		if err != nil {
			return config.Config{}, true, false, fmt.Errorf("load config failed: %w", err)
		}
		return cfg, true, false, nil
	}
	if !os.IsNotExist(err) {
		return config.Config{}, false, false, fmt.Errorf("stat config path failed: %w", err)
	}
	if !allowMissing {
		return config.Config{}, false, false, fmt.Errorf("config file not found: %s", configPath)
	}
	return config.DefaultConfig(), false, true, nil
}

func loadRawConfig(configPath string) (config.Config, error) {
	payload, err := os.ReadFile(configPath)
	if err != nil {
		return config.Config{}, err
	}
	var cfg config.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
