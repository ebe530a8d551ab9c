package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svr_settings.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStore_PutGet(t *testing.T) {
	store, _ := tempStore(t)

	if err := store.Put("SN1", []byte(`{"prog1Cap":"40"}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get("SN1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"prog1Cap":"40"}` {
		t.Errorf("Get() = %s", got)
	}
}

func TestStore_Overwrite(t *testing.T) {
	store, _ := tempStore(t)

	if err := store.Put("SN1", []byte(`old`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put("SN1", []byte(`new`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get("SN1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Second snapshot should replace the first, got %s", got)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := tempStore(t)

	got, err := store.Get("SN404")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing snapshot, got %s", got)
	}
}

func TestClean(t *testing.T) {
	store, path := tempStore(t)
	store.Close()

	if err := Clean(path); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Cache file should be removed")
	}

	// Cleaning an already-missing file is not an error
	if err := Clean(path); err != nil {
		t.Errorf("Clean() on missing file error = %v", err)
	}
}
