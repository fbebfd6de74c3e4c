package configpreflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEvaluatePathPassesWithExistingConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"store":{"backend":"sqlite","data_dir":"output/db"}}`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if report.Status != "ok" {
		t.Fatalf("expected status ok, got %#v", report)
	}
	if !report.Gate.Passed {
		t.Fatalf("expected gate passed, got %#v", report.Gate)
	}
	if !report.ConfigExists {
		t.Fatalf("expected config exists true, got %#v", report.ConfigExists)
	}
	if report.UsedDefaultConfig {
		t.Fatalf("expected used_default_config false, got %#v", report.UsedDefaultConfig)
	}
}

func TestEvaluatePathUsesDefaultWhenConfigMissing(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "missing-config.json")

	report := EvaluatePath(configPath, Options{AllowMissingConfig: true})
	if report.Status != "ok" {
		t.Fatalf("expected status ok, got %#v", report.Status)
	}
	if report.ConfigExists {
		t.Fatalf("expected config_exists false, got %#v", report.ConfigExists)
	}
	if !report.UsedDefaultConfig {
		t.Fatalf("expected used_default_config true, got %#v", report.UsedDefaultConfig)
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Fatalf("expected missing config path to stay absent, got err=%v", err)
	}
}

func TestEvaluatePathFailsWhenConfigMissingAndDisallowed(t *testing.T) {
	report := EvaluatePath(filepath.Join(t.TempDir(), "missing-config.json"), Options{AllowMissingConfig: false})
	if report.Status != "failed" {
		t.Fatalf("expected status failed, got %#v", report.Status)
	}
	if len(report.Gate.Failures) == 0 {
		t.Fatalf("expected at least one failure, got %#v", report.Gate)
	}
	if !strings.Contains(report.Gate.Failures[0], "config file not found") {
		t.Fatalf("expected missing-config failure, got %#v", report.Gate.Failures)
	}
}

func TestEvaluatePathFailsOnUnknownBackend(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"store":{"backend":"mysql"}}`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if report.Gate.Passed {
		t.Fatalf("expected gate failed, got %#v", report.Gate)
	}
	if !hasFailure(report, "store_backend") {
		t.Fatalf("expected store_backend failure, got %#v", report.Gate.Failures)
	}
}

func TestEvaluatePathFailsOnMissingPostgresDSN(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"store":{"backend":"postgres"}}`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if report.Gate.Passed {
		t.Fatalf("expected gate failed, got %#v", report.Gate)
	}
	if !hasFailure(report, "postgres_dsn") {
		t.Fatalf("expected postgres_dsn failure, got %#v", report.Gate.Failures)
	}
}

func TestEvaluatePathFailsOnNegativeTuning(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"persistence":{"timeout_sec":-5,"workers":-1}}`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if report.Gate.Passed {
		t.Fatalf("expected gate failed, got %#v", report.Gate)
	}
	if !hasFailure(report, "persistence_timeout") || !hasFailure(report, "persistence_workers") {
		t.Fatalf("expected timeout and workers failures, got %#v", report.Gate.Failures)
	}
}

func TestEvaluatePathAcceptsZeroValuesAsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"persistence":{"timeout_sec":0,"workers":0}}`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if !report.Gate.Passed {
		t.Fatalf("zero values take their defaults and must pass, got %#v", report.Gate)
	}
}

func TestEvaluatePathFailsOnMalformedJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(`{"store":`), 0644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	report := EvaluatePath(configPath, Options{AllowMissingConfig: false})
	if report.Status != "failed" {
		t.Fatalf("expected status failed, got %#v", report.Status)
	}
	if !report.ConfigExists {
		t.Fatalf("expected config exists true, got %#v", report.ConfigExists)
	}
}

func hasFailure(report Report, checkName string) bool {
	for _, failure := range report.Gate.Failures {
		if strings.HasPrefix(failure, checkName+":") {
			return true
		}
	}
	return false
}
