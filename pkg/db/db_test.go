package db

import (
	"testing"

	"github.com/wyfcoding/propertyalert/pkg/config"
)

func TestDialector(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialector(driver, "dsn")
		if err != nil || d == nil {
			t.Fatalf("%s: %v", driver, err)
		}
		if d.Name() != driver {
			t.Fatalf("dialector name = %s, want %s", d.Name(), driver)
		}
	}
	if _, err := Dialector("oracle", "dsn"); err == nil {
		t.Fatalf("unsupported driver must be rejected")
	}
}

func TestOpenSQLite(t *testing.T) {
	gormDB, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file:dbtest?mode=memory&cache=shared", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var one int
	if err := gormDB.Raw("SELECT 1").Scan(&one).Error; err != nil || one != 1 {
		t.Fatalf("query: %d %v", one, err)
	}
	if err := Close(gormDB); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil): %v", err)
	}
}
