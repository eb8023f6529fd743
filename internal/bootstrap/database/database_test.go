package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"ghchrono/internal/bootstrap/config"
)

func TestDSNForRepo(t *testing.T) {
	cfg := config.DatabaseConfig{DataDir: "data", DSNParams: "_pragma=foreign_keys(1)"}

	dsn, err := DSNForRepo(cfg, "octo-org/hello.world")
	if err != nil {
		t.Fatalf("DSNForRepo() error = %v", err)
	}
	want := filepath.Join("data", "octo-org__hello.world.sqlite") + "?_pragma=foreign_keys(1)"
	if dsn != want {
		t.Fatalf("DSNForRepo() = %q, want %q", dsn, want)
	}

	for _, bad := range []string{"", "octo", "/name", "a/b/c"} {
		if _, err := DSNForRepo(cfg, bad); err == nil {
			t.Fatalf("DSNForRepo(%q) expected error", bad)
		}
	}
}

func TestOpenAndMigrateCreatesFile(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{Driver: "sqlite", DataDir: filepath.Join(t.TempDir(), "nested")}

	dsn, err := DSNForRepo(cfg, "octo/repo")
	if err != nil {
		t.Fatalf("DSNForRepo() error = %v", err)
	}
	db, err := Open(ctx, cfg, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = Close(db) })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !db.Migrator().HasTable("events") || !db.Migrator().HasTable("pr_draft_intervals") {
		t.Fatalf("expected events and interval tables after migrate")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres"}, "x")
	if err == nil || !strings.Contains(err.Error(), "unsupported database driver") {
		t.Fatalf("Open() error = %v", err)
	}
}
