// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9000
  host: "127.0.0.1"
handover:
  poll_interval: "1s"
  max_lifetime: "3m"
storage:
  object:
    type: s3
    bucket: malo
log:
  level: "debug"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 || cfg.API.Host != "127.0.0.1" {
		t.Errorf("API: got %+v", cfg.API)
	}
	if cfg.Handover.PollInterval != "1s" || cfg.Handover.MaxLifetime != "3m" {
		t.Errorf("Handover: got %+v", cfg.Handover)
	}
	if cfg.Storage.Object.Type != "s3" || cfg.Storage.Object.Bucket != "malo" {
		t.Errorf("Storage.Object: got %+v", cfg.Storage.Object)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "api:\n  port: 8081\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Handover.MaxLifetime != "5m" {
		t.Errorf("default max_lifetime: got %q", cfg.Handover.MaxLifetime)
	}
	if cfg.RunStore.Type != "memory" || cfg.Lock.Type != "memory" || cfg.Events.Type != "noop" {
		t.Errorf("unexpected backend defaults: %+v %+v %+v", cfg.RunStore, cfg.Lock, cfg.Events)
	}
	if cfg.Negotiation.AssetType != "MaLo_lfr" {
		t.Errorf("default asset_type: got %q", cfg.Negotiation.AssetType)
	}
}

func TestLoadConfig_EnvPlaceholder(t *testing.T) {
	t.Setenv("TEST_RUNSTORE_PG", "postgres://u:p@localhost/malo")
	cfg, err := LoadConfig(writeConfig(t, "runstore:\n  type: postgres\n  dsn: \"${TEST_RUNSTORE_PG}\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RunStore.DSN != "postgres://u:p@localhost/malo" {
		t.Errorf("DSN: got %q", cfg.RunStore.DSN)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "handover:\n  poll_interval: \"soon\"\n")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadConfig_LockMustOutliveRun(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "handover:\n  max_lifetime: \"10m\"\nlock:\n  ttl: \"10m\"\n")); err == nil {
		t.Fatal("expected error when lock.ttl does not exceed handover.max_lifetime")
	}
	if _, err := LoadConfig(writeConfig(t, "handover:\n  max_lifetime: \"10m\"\nlock:\n  ttl: \"5m\"\n")); err == nil {
		t.Fatal("expected error when lock.ttl is shorter than handover.max_lifetime")
	}
	if _, err := LoadConfig(writeConfig(t, "handover:\n  max_lifetime: \"5m\"\nlock:\n  ttl: \"10m\"\n")); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
}

func TestDuration(t *testing.T) {
	if Duration("", time.Second) != time.Second {
		t.Error("empty should use default")
	}
	if Duration("bad", time.Second) != time.Second {
		t.Error("invalid should use default")
	}
	if Duration("250ms", time.Second) != 250*time.Millisecond {
		t.Error("valid duration should parse")
	}
}
