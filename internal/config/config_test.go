package config

import (
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(nil))
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.PredictOrigin != "http://localhost:8000" {
		t.Fatalf("unexpected origin: %s", cfg.PredictOrigin)
	}
	if cfg.PredictPath != "/predict" {
		t.Fatalf("unexpected path: %s", cfg.PredictPath)
	}
	if cfg.PredictTimeout != 90*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.PredictTimeout)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected listen addresses: %s %s", cfg.HTTPAddr, cfg.GRPCAddr)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"PREDICT_ORIGIN":  "https://faces.example.com/",
		"PREDICT_PATH":    "v2/predict",
		"PREDICT_TIMEOUT": "0s",
	}))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if cfg.PredictOrigin != "https://faces.example.com" {
		t.Fatalf("expected trailing slash stripped, got %s", cfg.PredictOrigin)
	}
	if cfg.PredictPath != "/v2/predict" {
		t.Fatalf("expected leading slash added, got %s", cfg.PredictPath)
	}
	if cfg.PredictTimeout != 0 {
		t.Fatalf("expected disabled timeout, got %s", cfg.PredictTimeout)
	}
}

func TestLoadFromRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"relative origin":  {"PREDICT_ORIGIN": "/predict"},
		"ftp origin":       {"PREDICT_ORIGIN": "ftp://faces"},
		"bad duration":     {"PREDICT_TIMEOUT": "soon"},
		"negative timeout": {"SHUTDOWN_TIMEOUT": "-1s"},
		"zero interval":    {"HEALTH_INTERVAL": "0s"},
	}
	for name, env := range cases {
		if _, err := LoadFrom(envMap(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
