package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var testFiles = fstest.MapFS{
	"sql/0001_users.up.sql":   {Data: []byte("create table users (id text);\ncreate index users_id on users (id);")},
	"sql/0001_users.down.sql": {Data: []byte("drop table users;")},
	"sql/0002_notes.up.sql":   {Data: []byte("insert into notes values ('a;b');")},
	"sql/README.md":           {Data: []byte("ignored")},
}

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	m := NewManager(db, testFiles, "sql")
	m.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return m, mock
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`insert into notes values \('a;b'\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_notes.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_notes.up.sql" {
		t.Fatalf("unexpected applied set %v", applied)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table users").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be recorded, got %v", applied)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0001_users.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_users.up.sql" {
		t.Fatalf("unexpected rollback %q", name)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newManager(t)
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a; b 'x;y'; c")
	if len(got) != 3 || got[1] != " b 'x;y';" {
		t.Fatalf("unexpected split %q", got)
	}
}
