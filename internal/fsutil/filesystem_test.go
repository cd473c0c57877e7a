package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateListRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	var fsys OSFileSystem

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{"frame_1.csv", "frame_0.csv"} {
		w, err := fsys.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := w.Write([]byte(name)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := fsys.List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "frame_0.csv" || names[1] != "frame_1.csv" {
		t.Errorf("List = %v, want [frame_0.csv frame_1.csv]", names)
	}

	data, err := fsys.ReadFile(filepath.Join(dir, "frame_1.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "frame_1.csv" {
		t.Errorf("ReadFile = %q", data)
	}
}

func TestMemoryFileSystem_ContentVisibleAfterClose(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("out/lidar", 0o755); err != nil {
		t.Fatal(err)
	}

	w, err := m.Create("out/lidar/frame_0.csv")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.Write([]byte("1,2,3,0.5\n"))

	data, err := m.ReadFile("out/lidar/frame_0.csv")
	if err != nil {
		t.Fatalf("ReadFile before close: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty file before close, got %q", data)
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, _ = m.ReadFile("out/lidar/frame_0.csv")
	if string(data) != "1,2,3,0.5\n" {
		t.Errorf("ReadFile after close = %q", data)
	}
}

func TestMemoryFileSystem_CreateWithoutDir(t *testing.T) {
	m := NewMemoryFileSystem()
	_, err := m.Create("missing/frame_0.csv")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_ListAndLen(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll("out/a", 0o755)
	m.MkdirAll("out/b", 0o755)
	for _, name := range []string{"out/a/frame_2.csv", "out/a/frame_10.csv", "out/b/frame_0.csv"} {
		w, err := m.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Close()
	}

	names, err := m.List("out/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "frame_10.csv" || names[1] != "frame_2.csv" {
		t.Errorf("List = %v", names)
	}
	if got := m.Len("out"); got != 3 {
		t.Errorf("Len(out) = %d, want 3", got)
	}
	if got := m.Len("out/b"); got != 1 {
		t.Errorf("Len(out/b) = %d, want 1", got)
	}
	if _, err := m.List("out/c"); err == nil {
		t.Error("expected error listing unknown dir")
	}
}

func TestMemoryFileSystem_ReadIsolation(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll("d", 0o755)
	w, _ := m.Create("d/f")
	w.Write([]byte("abc"))
	w.Close()

	data, _ := m.ReadFile("d/f")
	data[0] = 'x'

	again, _ := m.ReadFile("d/f")
	if string(again) != "abc" {
		t.Errorf("stored data modified through returned slice: %q", again)
	}
}
