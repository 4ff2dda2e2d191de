// config_test.go — 配置加载默认值 + 文件 + 环境变量覆盖测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithWorkspaceFromEnv(t *testing.T) {
	t.Setenv("WORKSYNC_WORKSPACE_ID", "ws-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"StudioBaseURL", cfg.StudioBaseURL, "http://localhost:8788"},
		{"ListenAddr", cfg.ListenAddr, ":8970"},
		{"HTTPTimeout", cfg.HTTPTimeout, 15},
		{"DBPath", cfg.DBPath, "worksync.db"},
		{"LogLevel", cfg.LogLevel, "INFO"},
		{"WorkspaceID", cfg.WorkspaceID, "ws-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoadMissingWorkspaceFails(t *testing.T) {
	os.Unsetenv("WORKSYNC_WORKSPACE_ID")
	if _, err := Load(""); err == nil {
		t.Fatal("Load should fail without workspaceId")
	}
}

func TestLoadFromFile(t *testing.T) {
	os.Unsetenv("WORKSYNC_STUDIO_URL")
	os.Unsetenv("WORKSYNC_WORKSPACE_ID")
	path := filepath.Join(t.TempDir(), "worksync.json")
	body := `{
		"studioBaseUrl": "https://studio.example.com",
		"workspaceId": "ws-file",
		"pollHotMs": 2000
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StudioBaseURL != "https://studio.example.com" {
		t.Errorf("StudioBaseURL = %q", cfg.StudioBaseURL)
	}
	if cfg.WorkspaceID != "ws-file" {
		t.Errorf("WorkspaceID = %q", cfg.WorkspaceID)
	}
	if cfg.PollHotMS != 2000 {
		t.Errorf("PollHotMS = %d", cfg.PollHotMS)
	}
	// 文件未覆盖的字段保持默认
	if cfg.ListenAddr != ":8970" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worksync.json")
	if err := os.WriteFile(path, []byte(`{"workspaceId":"ws-file","listenAddr":":9000"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WORKSYNC_LISTEN_ADDR", ":9100")
	t.Setenv("WORKSYNC_WORKSPACE_ID", "ws-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q, want env override", cfg.ListenAddr)
	}
	if cfg.WorkspaceID != "ws-env" {
		t.Errorf("WorkspaceID = %q, want env override", cfg.WorkspaceID)
	}
}

func TestLoadBadFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worksync.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail on malformed file")
	}
}

func TestMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Load should fail on missing file")
	}
}
