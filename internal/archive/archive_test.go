// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeranaias/neochat/internal/model"
)

func messages(n int, prefix string) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.NewUserMessage(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}

// backends returns one instance of each locally available backend.
func backends(t *testing.T) map[string]KV {
	t.Helper()

	fileKV, err := NewFileKV(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("NewFileKV() error = %v", err)
	}
	sqliteKV, err := NewSQLiteKV(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV() error = %v", err)
	}
	t.Cleanup(func() { sqliteKV.Close() })

	return map[string]KV{
		"memory": NewMemoryKV(),
		"file":   fileKV,
		"sqlite": sqliteKV,
	}
}

// =============================================================================
// ARCHIVE CONTRACT TESTS
// =============================================================================

func TestKey(t *testing.T) {
	if got := Key("conv_123"); got != "archive_conv_123" {
		t.Errorf("Key() = %q, want 'archive_conv_123'", got)
	}
}

func TestArchive_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := New(kv)

			first := messages(3, "a")
			second := messages(2, "b")
			if err := a.Append(ctx, "conv_1", first); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if err := a.Append(ctx, "conv_1", second); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			all := a.Read(ctx, "conv_1", 0, 0)
			if len(all) != 5 {
				t.Fatalf("len(Read) = %d, want 5", len(all))
			}
			if all[0].Content != "a-0" || all[4].Content != "b-1" {
				t.Errorf("order = %q ... %q", all[0].Content, all[4].Content)
			}
			if a.Len(ctx, "conv_1") != 5 {
				t.Errorf("Len() = %d, want 5", a.Len(ctx, "conv_1"))
			}
		})
	}
}

func TestArchive_ReadWindow(t *testing.T) {
	ctx := context.Background()
	a := New(NewMemoryKV())
	a.Append(ctx, "c", messages(10, "m"))

	tests := []struct {
		name          string
		offset, count int
		wantLen       int
		wantFirst     string
	}{
		{"head", 0, 3, 3, "m-0"},
		{"middle", 4, 2, 2, "m-4"},
		{"past end is clamped", 8, 5, 2, "m-8"},
		{"offset beyond", 10, 1, 0, ""},
		{"negative offset", -3, 1, 1, "m-0"},
		{"zero count reads rest", 7, 0, 3, "m-7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := a.Read(ctx, "c", tc.offset, tc.count)
			if len(got) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tc.wantLen)
			}
			if tc.wantLen > 0 && got[0].Content != tc.wantFirst {
				t.Errorf("first = %q, want %q", got[0].Content, tc.wantFirst)
			}
		})
	}
}

func TestArchive_MissingEntryIsEmpty(t *testing.T) {
	a := New(NewMemoryKV())
	got := a.Read(context.Background(), "nope", 0, 10)
	if got == nil || len(got) != 0 {
		t.Errorf("Read() = %v, want empty non-nil slice", got)
	}
}

func TestArchive_CorruptEntryTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	kv.Set(ctx, Key("c"), []byte("{not json"))
	a := New(kv)

	if got := a.Read(ctx, "c", 0, 0); len(got) != 0 {
		t.Errorf("Read() on corrupt entry = %d messages, want 0", len(got))
	}

	if err := a.Append(ctx, "c", messages(2, "x")); err != nil {
		t.Fatalf("Append() over corrupt entry error = %v", err)
	}
	if got := a.Read(ctx, "c", 0, 0); len(got) != 2 {
		t.Errorf("Read() after append = %d messages, want 2", len(got))
	}
}

func TestArchive_CorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	kv, _ := NewFileKV(dir)
	os.WriteFile(filepath.Join(dir, Key("c")+".json"), []byte("garbage"), 0600)

	a := New(kv)
	if got := a.Read(context.Background(), "c", 0, 0); len(got) != 0 {
		t.Errorf("Read() = %d messages, want 0", len(got))
	}
}

// failingKV fails every operation.
type failingKV struct{}

var errBackendDown = errors.New("backend down")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingKV) Set(context.Context, string, []byte) error { return errBackendDown }
func (failingKV) Delete(context.Context, string) error { return errBackendDown }
func (failingKV) Close() error { return nil }

func TestArchive_BackendFailuresNeverPanic(t *testing.T) {
	ctx := context.Background()
	a := New(failingKV{})

	if err := a.Append(ctx, "c", messages(1, "x")); !errors.Is(err, errBackendDown) {
		t.Errorf("Append() error = %v, want %v", err, errBackendDown)
	}
	if got := a.Read(ctx, "c", 0, 0); len(got) != 0 {
		t.Errorf("Read() = %d messages, want 0", len(got))
	}
	if a.Len(ctx, "c") != 0 {
		t.Error("Len() on failing backend should be 0")
	}
	a.Delete(ctx, "c")
}

func TestArchive_Delete(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := New(kv)
			a.Append(ctx, "gone", messages(2, "x"))
			a.Delete(ctx, "gone")

			if a.Len(ctx, "gone") != 0 {
				t.Errorf("Len() after Delete = %d, want 0", a.Len(ctx, "gone"))
			}
			// Deleting twice is fine.
			a.Delete(ctx, "gone")
		})
	}
}

func TestArchive_EmptyAppendIsNoop(t *testing.T) {
	kv := NewMemoryKV()
	a := New(kv)
	if err := a.Append(context.Background(), "c", nil); err != nil {
		t.Fatalf("Append(nil) error = %v", err)
	}
	if len(kv.Keys()) != 0 {
		t.Errorf("Keys() = %v, want none", kv.Keys())
	}
}

// =============================================================================
// BACKEND TESTS
// =============================================================================

func TestFileKV_RejectsTraversal(t *testing.T) {
	kv, _ := NewFileKV(t.TempDir())
	for _, key := range []string{"../escape", "a/b", `a\b`, ""} {
		if err := kv.Set(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Set(%q) should fail", key)
		}
	}
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	kv, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("NewSQLiteKV() error = %v", err)
	}
	New(kv).Append(ctx, "c", messages(4, "p"))
	kv.Close()

	kv2, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer kv2.Close()

	if n := New(kv2).Len(ctx, "c"); n != 4 {
		t.Errorf("Len() after reopen = %d, want 4", n)
	}
}

func TestOpenKV(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Backend: "memory"}, false},
		{"file", Config{Backend: "file", Path: t.TempDir()}, false},
		{"sqlite", Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "a.db")}, false},
		{"file without path", Config{Backend: "file"}, true},
		{"unknown", Config{Backend: "etcd"}, true},
		{"redis bad url", Config{Backend: "redis", URL: "not-a-url"}, true},
		{"postgres bad url", Config{Backend: "postgres", URL: "postgres://%zz"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kv, err := OpenKV(ctx, tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("OpenKV() error = %v, wantErr %v", err, tc.wantErr)
			}
			if kv != nil {
				kv.Close()
			}
		})
	}
}

func TestParseRedisURL(t *testing.T) {
	opt, err := ParseRedisURL("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("ParseRedisURL() error = %v", err)
	}
	if opt.Addr != "localhost:6380" || opt.DB != 2 || opt.Password != "secret" {
		t.Errorf("options = addr %q db %d", opt.Addr, opt.DB)
	}
}

func TestParsePostgresURL(t *testing.T) {
	cfg, err := ParsePostgresURL("postgres://neo:pw@localhost:5432/neochat?sslmode=disable")
	if err != nil {
		t.Fatalf("ParsePostgresURL() error = %v", err)
	}
	if cfg.ConnConfig.Database != "neochat" || cfg.MaxConns != 4 {
		t.Errorf("config = db %q maxConns %d", cfg.ConnConfig.Database, cfg.MaxConns)
	}
}

// flakyKV wraps a MemoryKV and fails the next Get when armed.
type flakyKV struct {
	*MemoryKV
	failGet bool
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet {
		f.failGet = false
		return nil, errors.New("i/o timeout")
	}
	return f.MemoryKV.Get(ctx, key)
}

func TestArchive_ReadFailureKeepsExistingEntry(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: NewMemoryKV()}
	a := New(kv)

	if err := a.Append(ctx, "c", messages(40, "old")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	kv.failGet = true
	if err := a.Append(ctx, "c", messages(5, "new")); err == nil {
		t.Fatal("Append() with unreadable entry should fail")
	}
	if got := a.Len(ctx, "c"); got != 40 {
		t.Fatalf("Len() after failed append = %d, want 40", got)
	}

	if err := a.Append(ctx, "c", messages(5, "new")); err != nil {
		t.Fatalf("retried Append() error = %v", err)
	}
	got := a.Read(ctx, "c", 0, 0)
	if len(got) != 45 {
		t.Fatalf("Read() = %d messages, want 45", len(got))
	}
	if got[0].Content != "old-0" || got[44].Content != "new-4" {
		t.Errorf("Read() = [%q ... %q], want [old-0 ... new-4]", got[0].Content, got[44].Content)
	}
}
