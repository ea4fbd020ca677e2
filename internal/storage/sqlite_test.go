package storage

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsMatchEmbeddedFiles(t *testing.T) {
	s := openTestStore(t)

	want, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	got, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %d migrations", got, len(want))
	}
	for i, m := range want {
		if got[i] != m.version {
			t.Errorf("applied[%d] = %d, want %d", i, got[i], m.version)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_initial.sql", 1, false},
		{"012_add_index.sql", 12, false},
		{"initial.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMigrationVersion(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMigrationVersion(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMigrationVersion(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_run_after", "idx_jobs_type_status"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestBlobOverwrite(t *testing.T) {
	s := openTestStore(t)

	for _, v := range []string{`[{"id":"m1"}]`, `[{"id":"m2"}]`} {
		if err := s.PutBlob("nexus_vault_v1", []byte(v)); err != nil {
			t.Fatalf("PutBlob(%q): %v", v, err)
		}
	}
	got, err := s.GetBlob("nexus_vault_v1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != `[{"id":"m2"}]` {
		t.Errorf("GetBlob = %q", got)
	}

	keys, err := s.ListBlobKeys()
	if err != nil {
		t.Fatalf("ListBlobKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("ListBlobKeys = %v, want one key", keys)
	}
}

func TestGetBlobNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetBlob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlob err = %v, want ErrNotFound", err)
	}
}

func TestDeleteBlob(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutBlob("k", []byte("v")); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if err := s.DeleteBlob("k"); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	if _, err := s.GetBlob("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlob after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteBlob("k"); err != nil {
		t.Errorf("DeleteBlob on missing key: %v", err)
	}
}

func TestBlobPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.PutBlob("nexus_sessions_v1", []byte(`{"active":"s1"}`)); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetBlob("nexus_sessions_v1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(got) != `{"active":"s1"}` {
		t.Errorf("GetBlob = %q", got)
	}
}
