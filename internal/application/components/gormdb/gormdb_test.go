package gormdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm/logger"
)

func TestBuildDSN(t *testing.T) {
	mysql, err := buildDSN(&DataSourceConfig{Driver: DriverMySQL, Host: "db", User: "u", Password: "p", Database: "devops"})
	if err != nil {
		t.Fatalf("mysql dsn: %v", err)
	}
	if !strings.HasPrefix(mysql, "u:p@tcp(db:3306)/devops?") || !strings.Contains(mysql, "parseTime=true") {
		t.Fatalf("unexpected mysql dsn %q", mysql)
	}

	pg, err := buildDSN(&DataSourceConfig{
		Driver: DriverPostgres, Host: "db", User: "u", Password: "p", Database: "devops",
		Params: map[string]string{"sslmode": "disable", "TimeZone": "UTC"},
	})
	if err != nil {
		t.Fatalf("pg dsn: %v", err)
	}
	if pg != "host=db user=u password=p dbname=devops port=5432 TimeZone=UTC sslmode=disable" {
		t.Fatalf("unexpected pg dsn %q", pg)
	}

	if _, err := buildDSN(&DataSourceConfig{Host: "db"}); err == nil {
		t.Fatalf("missing user/database should fail")
	}
	if got, _ := buildDSN(&DataSourceConfig{DSN: "raw"}); got != "raw" {
		t.Fatalf("explicit dsn not kept: %q", got)
	}
}

func TestValidateNormalizesDriver(t *testing.T) {
	cfg := &Config{Enabled: true, DataSources: map[string]*DataSourceConfig{"main": {Driver: " Postgres "}}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.DataSources["main"].Driver != DriverPostgres {
		t.Fatalf("driver not normalized: %q", cfg.DataSources["main"].Driver)
	}
	bad := &Config{Enabled: true, DataSources: map[string]*DataSourceConfig{"main": {Driver: "oracle"}}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("unsupported driver should fail")
	}
}

func TestMigrationFilesOrderAndSplit(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"002_b.sql": "select 2;",
		"001_a.sql": "create table a(id int); insert into a values (1);",
		"readme.md": "skip",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "001_a.sql" || filepath.Base(files[1]) != "002_b.sql" {
		t.Fatalf("unexpected order: %v", files)
	}
	if got := splitStatements("create table a(id int); insert into a values (1);\n"); len(got) != 2 {
		t.Fatalf("split got %d statements", len(got))
	}
}

func TestGormLoggerLevel(t *testing.T) {
	if l := newGormLogger(&Config{LogLevel: "warn"}); l.logLevel != logger.Warn {
		t.Fatalf("level = %v", l.logLevel)
	}
	if l := newGormLogger(nil); l.logLevel != logger.Info || l.slowThreshold <= 0 {
		t.Fatalf("defaults not applied: %+v", l)
	}
}
