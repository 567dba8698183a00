package db

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsNoRows(t *testing.T) {
	t.Parallel()

	if !IsNoRows(sql.ErrNoRows) {
		t.Error("sql.ErrNoRows not recognized")
	}
	if IsNoRows(fmt.Errorf("other")) {
		t.Error("unrelated error recognized as no-rows")
	}
}

func TestUniqueViolation(t *testing.T) {
	t.Parallel()

	dup := &mysql.MySQLError{
		Number:  1062,
		Message: "Duplicate entry 'sub-1' for key 'submissions.submission_id'",
	}
	key, ok := UniqueViolation(fmt.Errorf("insert: %w", dup))
	if !ok {
		t.Fatal("duplicate key error not recognized")
	}
	if key != "submissions.submission_id" {
		t.Errorf("key: got %q", key)
	}

	if _, ok := UniqueViolation(&mysql.MySQLError{Number: 1045}); ok {
		t.Error("non-duplicate MySQL error recognized")
	}
	if _, ok := UniqueViolation(fmt.Errorf("plain")); ok {
		t.Error("plain error recognized")
	}
}
