package db

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrateSQLiteCreatesTables(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	for _, table := range []string{"sources", "proxies", "settings"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("missing table %s", table)
		}
	}
	for _, column := range []string{"url", "external_ip", "check_history", "last_ok_at", "checked_at"} {
		if !conn.Migrator().HasColumn("proxies", column) {
			t.Fatalf("proxies missing column %s", column)
		}
	}
	if !conn.Migrator().HasIndex("proxies", "idx_proxies_url") {
		t.Fatal("proxies missing unique url index")
	}
}

func TestMigrateNilConnection(t *testing.T) {
	if errMigrate := Migrate(nil); errMigrate == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestDetectDialectFromDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/pool":   DialectPostgres,
		"host=localhost user=pool dbname=pool": DialectPostgres,
		"data/proxypool.db":                    DialectSQLite,
		"file:data/proxypool.db?_pragma=foo":   DialectSQLite,
		"sqlite://data/proxypool.db":           DialectSQLite,
	}
	for dsn, want := range cases {
		got, errDetect := detectDialectFromDSN(dsn)
		if errDetect != nil {
			t.Fatalf("detect %q: %v", dsn, errDetect)
		}
		if got != want {
			t.Fatalf("detect %q = %s, want %s", dsn, got, want)
		}
	}
	if _, errDetect := detectDialectFromDSN("mysql://root@localhost/pool"); errDetect == nil {
		t.Fatal("expected error for mysql dsn")
	}
}

func TestSQLitePathFromDSN(t *testing.T) {
	cases := map[string]string{
		"data/pool.db":                         "data/pool.db",
		"data/pool.db?_pragma=busy_timeout(1)": "data/pool.db",
		"file:data/pool.db?x=1":                "data/pool.db",
		"file::memory:":                        "",
		"file:pool?mode=memory&cache=shared":   "",
	}
	for dsn, want := range cases {
		if got := sqlitePathFromDSN(dsn); got != want {
			t.Fatalf("sqlitePathFromDSN(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenSQLiteInMemory(t *testing.T) {
	conn, errOpen := Open("file:open_test?mode=memory&cache=shared")
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if DialectName(conn) != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %s", DialectName(conn))
	}
}
