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

package object

import (
	"context"
	"errors"
	"testing"

	"malo-handover/pkg/config"
)

func TestMemoryStore_Put_Get_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	data := []byte("hello")
	if err := s.Put(ctx, "c1", "p1", data, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'
	b, err := s.Get(ctx, "c1", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(b) != "hello" {
		t.Errorf("Get: got %q", string(b))
	}
	if err := s.Delete(ctx, "c1", "p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "c1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got %v", err)
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "c", "k", []byte("a"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "c", "k", []byte("b"), false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := s.Put(ctx, "c", "k", []byte("b"), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	b, _ := s.Get(ctx, "c", "k")
	if string(b) != "b" {
		t.Errorf("got %q after overwrite", b)
	}
}

func TestMemoryStore_ListAndExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, "run-1", "b", []byte("2"), true)
	_ = s.Put(ctx, "run-1", "a", []byte("1"), true)
	_ = s.Put(ctx, "run-2", "c", []byte("3"), true)

	list, err := s.List(ctx, "run-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a" || list[1].Name != "b" {
		t.Fatalf("List: got %+v", list)
	}
	if ok, _ := s.Exists(ctx, "run-2", "c"); !ok {
		t.Error("Exists run-2/c should be true")
	}
	if ok, _ := s.Exists(ctx, "run-1", "c"); ok {
		t.Error("containers should be isolated")
	}
	if empty, _ := s.List(ctx, "none"); len(empty) != 0 {
		t.Errorf("List on unknown container: %v", empty)
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(context.Background(), config.ObjectConfig{Type: "memory"})
	if err != nil || s == nil {
		t.Fatalf("NewStore memory: %v", err)
	}
	if _, err := NewStore(context.Background(), config.ObjectConfig{Type: "gcs"}); err == nil {
		t.Fatal("unknown type should fail")
	}
	if _, err := NewStore(context.Background(), config.ObjectConfig{Type: "s3"}); err == nil {
		t.Fatal("s3 without bucket should fail")
	}
}
