package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	cases := map[string]string{
		"":            "",
		"/tmp":        "/tmp",
		"~":           home,
		"~/genie/app": filepath.Join(home, "genie", "app"),
		"~other/x":    "~other/x",
	}
	for in, want := range cases {
		got, err := ExpandHome(in)
		if err != nil || got != want {
			t.Fatalf("ExpandHome(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestResolveIn(t *testing.T) {
	base := t.TempDir()
	if got, _ := ResolveIn(base, "sessions.db"); got != filepath.Join(base, "sessions.db") {
		t.Fatalf("relative path not anchored: %q", got)
	}
	abs := filepath.Join(base, "abs.db")
	if got, _ := ResolveIn("/elsewhere", abs); got != abs {
		t.Fatalf("absolute path changed: %q", got)
	}
	if got, _ := ResolveIn(base, ""); got != "" {
		t.Fatalf("empty path must stay empty: %q", got)
	}
}

func TestEnsureParentDirAndCheckExecutable(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a", "b", "store.db")
	if err := EnsureParentDir(p); err != nil {
		t.Fatalf("EnsureParentDir: %v", err)
	}
	if fi, err := os.Stat(filepath.Dir(p)); err != nil || !fi.IsDir() {
		t.Fatalf("parent not created: %v", err)
	}
	if runtime.GOOS == "windows" {
		t.Skip("exec bits not meaningful on windows")
	}
	bin := filepath.Join(dir, "genie-app")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if CheckExecutable(bin) == nil {
		t.Fatalf("non-executable file accepted")
	}
	_ = os.Chmod(bin, 0o755)
	if err := CheckExecutable(bin); err != nil {
		t.Fatalf("CheckExecutable: %v", err)
	}
	if CheckExecutable(dir) == nil || CheckExecutable(filepath.Join(dir, "missing")) == nil {
		t.Fatalf("directories and missing files are not executables")
	}
}
