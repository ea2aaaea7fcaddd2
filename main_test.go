package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"ci-medic/logger"
	"ci-medic/store"
)

func TestParsePRArgs(t *testing.T) {
	repo, n, err := parsePRArgs([]string{"acme/shop", "42"})
	if err != nil || repo != "acme/shop" || n != 42 {
		t.Fatalf("got %q %d %v", repo, n, err)
	}
	for _, args := range [][]string{
		{"acme", "42"},
		{"acme/shop", "x"},
		{"acme/shop", "0"},
		{"acme/shop/extra", "1"},
	} {
		if _, _, err := parsePRArgs(args); err == nil {
			t.Errorf("parsePRArgs(%v) should fail", args)
		}
	}
}

func TestOpenStore(t *testing.T) {
	cfg := StoreConfig{Type: "json", JSON: JSONStoreCfg{Path: filepath.Join(t.TempDir(), "data", "s.json")}}
	s, err := openStore(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("openStore json: %v", err)
	}
	if _, ok := s.(*store.JSONStore); !ok {
		t.Errorf("got %T", s)
	}
	s.Close()

	cfg = StoreConfig{Type: "sqlite", SQLite: SQLiteCfg{Path: filepath.Join(t.TempDir(), "db", "s.db")}}
	s, err = openStore(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("openStore sqlite: %v", err)
	}
	if _, err := s.AddTrackedPR(context.Background(), "acme/shop", 1); err != nil {
		t.Errorf("AddTrackedPR: %v", err)
	}
	s.Close()

	if _, err := openStore(StoreConfig{Type: "redis"}, logger.Nop()); err == nil {
		t.Error("unknown store type should fail")
	}
}

func TestSettingsHideSecrets(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("MINIMAX_API_KEY", "sk-very-secret")
	t.Setenv("API_AUTH_TOKEN", "")

	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	env := &environment{configPath: &path, cfg: cfg}
	s := env.settings()
	if !s.HasAnalysisKey || s.HasGitHubToken {
		t.Errorf("settings = %+v", s)
	}
	if s.AnalysisModel == "" {
		t.Error("model should default")
	}
	if strings.Contains(s.Primary.Template+s.Secondary.Template+s.AnalysisModel, "secret") {
		t.Error("settings leaked the key")
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ci-medic ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestOpenCLIDryRun(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("MINIMAX_API_KEY", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, "store:\n  type: json\n  json:\n    path: "+filepath.Join(dir, "s.json")+"\n")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "open-cli", "acme/shop", "7", "--action", "secondary", "--context", "lint", "--dry-run"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "kimi -y -p '") {
		t.Errorf("command = %q", got)
	}
	if !strings.Contains(got, "https://github.com/acme/shop/pull/7") {
		t.Errorf("command should carry the PR URL: %q", got)
	}
}
