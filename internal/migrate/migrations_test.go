package migrate

import (
	"context"
	"testing"

	"questline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh database should report 0, got %d %v", v, err)
	}
	available, err := Available()
	if err != nil || len(available) == 0 {
		t.Fatalf("expected embedded migrations, got %d %v", len(available), err)
	}
	latest := available[len(available)-1].Version

	v, err := Migrate(ctx, conn)
	if err != nil || v != latest {
		t.Fatalf("migrate: got %d %v, want %d", v, err, latest)
	}
	if v, err = Migrate(ctx, conn); err != nil || v != latest {
		t.Fatalf("second migrate: got %d %v", v, err)
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("encounters table missing: %d %v", n, err)
	}
}
