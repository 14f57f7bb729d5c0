package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if !cfg.Rules.Watch || cfg.Rules.Directory != "/etc/leanflow/rules" {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if a := cfg.Analysis.Anchors["defect_waste"]; a.Low != 55 || a.High != 75 {
		t.Errorf("defect_waste anchor = %+v", a)
	}
	if cfg.ROI.HorizonYears != 5 {
		t.Errorf("ROI.HorizonYears = %d, want 5", cfg.ROI.HorizonYears)
	}
	if cfg.Pipeline.Retry.MaxRetries != 4 {
		t.Errorf("Retry.MaxRetries = %d, want 4", cfg.Pipeline.Retry.MaxRetries)
	}
	if cfg.Pipeline.Retry.BackoffMultiplier != 2 {
		t.Errorf("Retry.BackoffMultiplier = %v, want default 2", cfg.Pipeline.Retry.BackoffMultiplier)
	}
	if cfg.Pipeline.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 3", cfg.Pipeline.CircuitBreaker.FailureThreshold)
	}
	if cfg.Store.Driver != DriverRedis || cfg.Store.TTL != 24*time.Hour {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Reasoning.Provider != ProviderHTTP {
		t.Errorf("Reasoning.Provider = %q", cfg.Reasoning.Provider)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_empty_path_uses_defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestLoad_reports_every_problem(t *testing.T) {
	_, err := Load("testdata/bad_store.yaml")
	if err == nil {
		t.Fatal("Load() with invalid driver should return error")
	}
	for _, want := range []string{"store.driver", "roi.conservatism_factor"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Pipeline.GateRetries != 2 {
		t.Errorf("default GateRetries = %d, want 2", cfg.Pipeline.GateRetries)
	}
	if cfg.Pipeline.Retry.MaxRetries != 3 {
		t.Errorf("default MaxRetries = %d, want 3", cfg.Pipeline.Retry.MaxRetries)
	}
	if cfg.ROI.ConservatismFactor != 0.7 {
		t.Errorf("default ConservatismFactor = %v, want 0.7", cfg.ROI.ConservatismFactor)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEANFLOW_SERVER_PORT", "3000")
	t.Setenv("LEANFLOW_STORE_DRIVER", "sqlite")
	t.Setenv("LEANFLOW_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("LEANFLOW_ROI_CONSERVATISM_FACTOR", "0.5")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override beats file)", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %q, want sqlite (env override)", cfg.Store.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.ROI.ConservatismFactor != 0.5 {
		t.Errorf("ConservatismFactor = %v, want 0.5", cfg.ROI.ConservatismFactor)
	}
}

func TestValidate_http_provider_needs_url(t *testing.T) {
	cfg := Defaults()
	cfg.Reasoning.Provider = ProviderHTTP

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "reasoning.base_url") {
		t.Fatalf("Validate() = %v, want base_url error", err)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}
