package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"go.uber.org/multierr"

	"github.com/angelmondragon/gadgetswap-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q found", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestListingsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_listings.sql")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS listings",
		"CHECK (availability IN ('available', 'pending', 'sold', 'delisted'))",
		"CHECK (availability = 'pending' OR reserved_order_id IS NULL)",
		"DROP TABLE IF EXISTS listings",
	})
}

func TestOrdersMigrationEnforcesSingleCurrentOrder(t *testing.T) {
	content := readMigration(t, "*_create_orders.sql")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_buyer_current ON orders (buyer_id)",
		"WHERE status = 'CURRENT'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_items_order_listing ON order_items (order_id, listing_id)",
		"REFERENCES orders(id) ON DELETE CASCADE",
		"CHECK (payment_status <> 'PAID' OR status = 'FULFILLED')",
		"DROP TABLE IF EXISTS order_items",
	})
}

func TestOutboxMigrationContainsUnpublishedIndex(t *testing.T) {
	content := readMigration(t, "*_create_outbox_events.sql")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"WHERE published_at IS NULL",
		"DROP TABLE IF EXISTS outbox_events",
	})
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Embedded()); err != nil {
		t.Fatalf("ValidateFS: %v", err)
	}
	embedded, err := fs.Glob(migrate.Embedded(), "*.sql")
	if err != nil {
		t.Fatalf("glob embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob disk: %v", err)
	}
	if len(embedded) != len(onDisk) || len(embedded) == 0 {
		t.Fatalf("embedded %d migrations, disk has %d", len(embedded), len(onDisk))
	}
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"bad-name.sql":                      {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_down_first.sql":     {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		"20260101000001_open_statement.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
		"20260101000001_duplicate.sql":      {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000002_ok.sql":             {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")},
		"README.md":                         {Data: []byte("ignored")},
	}
	err := migrate.ValidateFS(fsys)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if got := len(multierr.Errors(err)); got != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", got, err)
	}
	for _, want := range []string{"bad-name.sql", "Down before Up", "StatementBegin open", "duplicate migration version"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing problem %q in %v", want, err)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration failed validation: %v", err)
	}
}
