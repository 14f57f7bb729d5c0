package rules

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcher_swapsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lean.yaml")
	if err := os.WriteFile(path, []byte(leanDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(reg)

	swapped := make(chan *Registry, 1)
	w, err := NewWatcher(dir, holder, zap.NewNop(), 20*time.Millisecond, func(r *Registry) {
		select {
		case swapped <- r:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	defer func() {
		cancel()
		w.Close()
	}()

	updated := strings.Replace(leanDoc, `version: "2"`, `version: "3"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-swapped:
		if !strings.Contains(r.Version(), "lean@3") {
			t.Errorf("swapped version = %q, want lean@3", r.Version())
		}
		if holder.Current() != r {
			t.Error("holder should publish the swapped registry")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("registry was not swapped")
	}
}

func TestWatcher_keepsCurrentOnBadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lean.yaml")
	if err := os.WriteFile(path, []byte(leanDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	reg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(reg)
	w, err := NewWatcher(dir, holder, zap.NewNop(), 10*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("framework: lean\nrules: [{id: x}]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w.reload()
	if holder.Current() != reg {
		t.Error("a rejected document must not replace the current registry")
	}
}
