package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCaseLockKeyIsStablePerCase(t *testing.T) {
	if caseLockKey("case-1") != caseLockKey("case-1") {
		t.Fatalf("lock key must be deterministic")
	}
	if caseLockKey("case-1") == caseLockKey("case-2") {
		t.Fatalf("distinct cases should not share a lock key")
	}
}

func TestCaseLockerLocksAndUnlocks(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	locker := NewCaseLocker(db)
	key := caseLockKey("case-1")

	mock.ExpectExec("SELECT pg_advisory_lock").WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 0))

	unlock, err := locker.Lock(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	unlock()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCaseLockerReportsLockFailure(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	locker := NewCaseLocker(db)

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnError(errors.New("connection reset"))

	if _, err := locker.Lock(context.Background(), "case-1"); err == nil {
		t.Fatalf("expected lock error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
