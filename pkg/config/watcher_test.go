// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("routing:\n  strategy: skill_match\n"), 0o644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	if got := watcher.Config().Routing.Strategy; got != "skill_match" {
		t.Errorf("expected initial strategy skill_match, got %q", got)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(configPath, []byte("routing:\n  strategy: weighted\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config: %v", err)
	}
	if err := os.Chtimes(configPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Routing.Strategy != "weighted" {
			t.Errorf("expected strategy weighted, got %q", cfg.Routing.Strategy)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
	if got := watcher.Config().Routing.Strategy; got != "weighted" {
		t.Errorf("Config() not updated, got %q", got)
	}
}

func TestWatcherWatchesProfileOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "config.yaml")
	overlay := filepath.Join(tmpDir, "config.dev.yaml")
	os.WriteFile(base, []byte("log:\n  level: info\n"), 0o644)
	os.WriteFile(overlay, []byte("log:\n  level: debug\n"), 0o644)

	watcher, err := NewWatcher(base, WithWatchProfile("dev"), WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if len(watcher.paths) != 2 {
		t.Fatalf("expected base and overlay to be watched, got %v", watcher.paths)
	}
	if got := watcher.Config().Log.Level; got != "debug" {
		t.Fatalf("expected overlay level debug, got %s", got)
	}

	changes := make(chan string, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case changes <- cfg.Log.Level:
		default:
		}
	})
	watcher.Start(context.Background())
	defer watcher.Stop()

	future := time.Now().Add(2 * time.Second)
	os.WriteFile(overlay, []byte("log:\n  level: error\n"), 0o644)
	os.Chtimes(overlay, future, future)

	select {
	case level := <-changes:
		if level != "error" {
			t.Errorf("expected level error, got %s", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for overlay reload")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	os.WriteFile(configPath, []byte("server:\n  port: 8100\n"), 0o644)

	watcher, err := NewWatcher(configPath, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	called := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { called <- struct{}{} })

	future := time.Now().Add(2 * time.Second)
	os.WriteFile(configPath, []byte("server: [broken"), 0o644)
	os.Chtimes(configPath, future, future)
	if !watcher.checkForChanges() {
		t.Fatal("expected change to be detected")
	}
	watcher.reload()

	select {
	case <-called:
		t.Fatal("listeners must not run for an invalid config")
	default:
	}
	if watcher.Config().Server.Port != 8100 {
		t.Fatalf("previous config should be kept, got port %d", watcher.Config().Server.Port)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	watcher, err := NewWatcher("", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	watcher.Start(context.Background())
	watcher.Stop()
	watcher.Stop()
}
