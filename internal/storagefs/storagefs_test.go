package storagefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateSubDirectory(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path, err := fs.CreateSubDirectory("batch-1")
	if err != nil {
		t.Fatalf("create subdirectory: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", path)
	}
}

func TestSaveCSVFileRoundTrips(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	path, err := fs.SaveCSVFile("batch-1", "export.csv", []byte("a,b\n1,2\n"))
	if err != nil {
		t.Fatalf("save csv: %v", err)
	}
	if filepath.Base(path) != "export.csv" {
		t.Fatalf("unexpected file name: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}
