package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "worksync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	missing, err := s.GetPreference(ctx, "nope")
	if err != nil {
		t.Fatalf("GetPreference missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("want nil for missing key, got %v", missing)
	}

	if err := s.SetPreference(ctx, PrefToolConcurrency, 3); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	got, err := s.GetPreference(ctx, PrefToolConcurrency)
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	// JSON 往返后数字是 float64
	if got.(float64) != 3 {
		t.Fatalf("want 3, got %v", got)
	}

	// upsert 覆盖
	if err := s.SetPreference(ctx, PrefToolConcurrency, 5); err != nil {
		t.Fatalf("SetPreference overwrite: %v", err)
	}
	got, _ = s.GetPreference(ctx, PrefToolConcurrency)
	if got.(float64) != 5 {
		t.Fatalf("want 5 after overwrite, got %v", got)
	}
}

func TestAllPreferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetPreference(ctx, PrefAutoContinue, true); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference(ctx, PrefSendMode, "queue"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}

	all, err := s.AllPreferences(ctx)
	if err != nil {
		t.Fatalf("AllPreferences: %v", err)
	}
	if all[PrefAutoContinue] != true {
		t.Errorf("autoContinue = %v, want true", all[PrefAutoContinue])
	}
	if all[PrefSendMode] != "queue" {
		t.Errorf("sendMode = %v, want queue", all[PrefSendMode])
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, _, ok := s.LoadCursor("br-1"); ok {
		t.Fatal("LoadCursor should miss before save")
	}

	s.SaveCursor("br-1", 42, "ev-abc")
	seq, id, ok := s.LoadCursor("br-1")
	if !ok {
		t.Fatal("LoadCursor miss after save")
	}
	if seq != 42 || id != "ev-abc" {
		t.Fatalf("cursor = (%d, %q), want (42, ev-abc)", seq, id)
	}

	// upsert 前进
	s.SaveCursor("br-1", 97, "ev-def")
	seq, id, _ = s.LoadCursor("br-1")
	if seq != 97 || id != "ev-def" {
		t.Fatalf("cursor = (%d, %q), want (97, ev-def)", seq, id)
	}
}

func TestPreferenceManager_FallbackMemory(t *testing.T) {
	manager := NewPreferenceManager(nil)
	ctx := context.Background()

	initial, err := manager.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if initial != nil {
		t.Fatalf("want nil for missing key, got %v", initial)
	}

	if err := manager.Set(ctx, PrefActiveBranch, "br-7"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := manager.Get(ctx, PrefActiveBranch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "br-7" {
		t.Fatalf("want br-7, got %v", got)
	}

	all, err := manager.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if all[PrefActiveBranch] != "br-7" {
		t.Fatalf("GetAll missing activeBranch")
	}
}

func TestPreferenceManager_TypedAccessors(t *testing.T) {
	s := openTestStore(t)
	manager := NewPreferenceManager(s)
	ctx := context.Background()

	// 缺失走默认
	if got := manager.GetInt(ctx, PrefMaxToolRuns, DefaultMaxToolRuns); got != DefaultMaxToolRuns {
		t.Errorf("GetInt default = %d, want %d", got, DefaultMaxToolRuns)
	}
	if got := manager.GetBool(ctx, PrefTransparency, true); !got {
		t.Error("GetBool default should be true")
	}
	if got := manager.GetString(ctx, PrefSendMode, "send"); got != "send" {
		t.Errorf("GetString default = %q, want send", got)
	}

	// 持久化后读回 (数字经 JSON 变 float64, 访问器折回 int)
	if err := manager.Set(ctx, PrefMaxToolRuns, 20); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := manager.GetInt(ctx, PrefMaxToolRuns, DefaultMaxToolRuns); got != 20 {
		t.Errorf("GetInt = %d, want 20", got)
	}

	if err := manager.Set(ctx, PrefTransparency, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := manager.GetBool(ctx, PrefTransparency, true); got {
		t.Error("GetBool should read persisted false")
	}

	// 类型不符回落默认
	if err := manager.Set(ctx, PrefSendMode, 123); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := manager.GetString(ctx, PrefSendMode, "send"); got != "send" {
		t.Errorf("GetString mismatched type = %q, want default", got)
	}
}
