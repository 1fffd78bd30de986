package labelstore

import (
	"path/filepath"
	"testing"
)

func TestPutLoad(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if db.Path() != filepath.Join(dir, FileName) {
		t.Errorf("Path = %s", db.Path())
	}

	if err := db.Put("serial:A", "com.example.app", "Example"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("serial:A", "com.example.app", "Example 2"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("serial:A", "com.other", "Other"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("serial:B", "com.example.app", "Beispiel"); err != nil {
		t.Fatal(err)
	}

	got, err := db.Load("serial:A")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["com.example.app"] != "Example 2" || got["com.other"] != "Other" {
		t.Errorf("Load(A) = %v", got)
	}
	got, err = db.Load("serial:C")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Load(C) = %v", got)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 || stats[0].DeviceID != "serial:A" || stats[0].Labels != 2 || stats[1].Labels != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestReopenKeepsLabels(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put("serial:A", "com.example.app", "Example"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	got, err := db.Load("serial:A")
	if err != nil {
		t.Fatal(err)
	}
	if got["com.example.app"] != "Example" {
		t.Errorf("Load after reopen = %v", got)
	}
}

func TestForget(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.Put("serial:A", "a", "A")
	db.Put("serial:A", "b", "B")
	db.Put("serial:B", "a", "A")

	n, err := db.Forget("serial:A")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Forget = %d, want 2", n)
	}
	got, _ := db.Load("serial:A")
	if len(got) != 0 {
		t.Errorf("labels left: %v", got)
	}
	got, _ = db.Load("serial:B")
	if len(got) != 1 {
		t.Errorf("other device affected: %v", got)
	}
}
