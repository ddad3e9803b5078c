package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsInitialSchema(t *testing.T) {
	content, err := FS.ReadFile("001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	sql := string(content)
	if !strings.Contains(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
		t.Error("migration must carry goose Up and Down directives")
	}
	for _, table := range []string{"patients", "questions", "forms", "form_answers", "biomarker_readings", "processing_queue"} {
		if !strings.Contains(sql, "CREATE TABLE "+table+" ") {
			t.Errorf("expected table %s in initial schema", table)
		}
	}
}
