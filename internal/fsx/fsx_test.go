package fsx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesAndOverwrites(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "out.yml")

	if err := WriteFileAtomic(target, []byte("first\n"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read first write: %v", err)
	}
	if string(first) != "first\n" {
		t.Fatalf("unexpected first content: %q", string(first))
	}

	if err := WriteFileAtomic(target, []byte("second\n"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read second write: %v", err)
	}
	if string(second) != "second\n" {
		t.Fatalf("unexpected second content: %q", string(second))
	}
	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	target := filepath.Join(t.TempDir(), "build.sh")

	if err := WriteFileAtomic(target, []byte("#!/usr/bin/env bash\n"), 0o755); err != nil {
		t.Fatalf("write file: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat file: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected mode 0755 got %#o", info.Mode().Perm())
	}
}

func TestReadOptional(t *testing.T) {
	dir := t.TempDir()
	if _, ok, err := ReadOptional(filepath.Join(dir, "missing")); err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}
	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, ok, err := ReadOptional(path)
	if err != nil || !ok || string(data) != "x" {
		t.Fatalf("present file: %q ok=%v err=%v", data, ok, err)
	}
	if !IsFile(path) || IsDir(path) || !IsDir(dir) {
		t.Fatalf("stat helpers disagree")
	}
}
