package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	files := fstest.MapFS{
		"002_reporting.sql":   {Data: []byte("CREATE INDEX idx ON exam_record (modality);")},
		"001_exam_record.sql": {Data: []byte("CREATE TABLE exam_record (id UUID PRIMARY KEY);")},
		"README.md":           {Data: []byte("notes")},
		"notes.sql":           {Data: []byte("-- no version")},
		"abc_bad.sql":         {Data: []byte("-- non numeric")},
		"sub/003_nested.sql":  {Data: []byte("-- nested")},
	}

	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_exam_record.sql" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
	if migrations[0].SQL != "CREATE TABLE exam_record (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_exam_record.sql"},
		{Version: 2, Name: "002_reporting.sql"},
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	p := pending(migrations, applied)
	if len(p) != 1 || p[0].Version != 2 {
		t.Errorf("expected only version 2 pending, got %+v", p)
	}

	st := statuses(migrations, applied)
	if len(st) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("expected version 1 applied at %v, got %+v", at, st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("expected version 2 pending, got %+v", st[1])
	}
}

func TestValidSchemaName(t *testing.T) {
	valid := []string{"public", "rvu", "rvu_2024", "_staging"}
	invalid := []string{"", "1abc", "rvu;DROP", "a b", "rvu-prod"}
	for _, s := range valid {
		if !ValidSchemaName(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if ValidSchemaName(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
