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

package log

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"trace": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(&Config{Level: in}); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if ParseLevel(nil) != slog.LevelInfo {
		t.Error("nil config should default to info")
	}
}

func TestWriterLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&Config{Level: "info", Format: "text"}, &buf)
	l.With("malo_id", "123").Info("协调完成", "state", "completed")
	l.Debug("不应输出")
	out := buf.String()
	if !strings.Contains(out, "malo_id=123") || !strings.Contains(out, "state=completed") {
		t.Errorf("unexpected output: %s", out)
	}
	if strings.Contains(out, "不应输出") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewLogger(&Config{File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("写入文件")
}
