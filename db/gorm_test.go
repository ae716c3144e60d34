package db

import (
	"strings"
	"testing"

	"AtmoMix/config"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(&config.Config{
		DBUser:     "mixer",
		DBPassword: "p@ss",
		DBHost:     "localhost",
		DBPort:     "3306",
		DBName:     "atmomix",
	})

	for _, want := range []string{"mixer:p@ss@", "tcp(localhost:3306)", "/atmomix?", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestAutoMigrateWithoutConnection(t *testing.T) {
	GormDB = nil
	if err := Migrate(); err == nil {
		t.Fatal("expected error without a connection")
	}
}
