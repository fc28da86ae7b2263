package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"statusdrift/internal/lattice"
	"statusdrift/internal/store"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newClient(db), mock
}

func TestInChunkRollsBackWhenCallbackFails(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := client.InChunk(context.Background(), func(tx store.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInChunkRollsBackWhenWriteFails(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO current_state").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO status_transitions").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ctx := context.Background()
	err := client.InChunk(ctx, func(tx store.Tx) error {
		if err := tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P1", Status: "A"}, 0); err != nil {
			return err
		}
		return tx.AppendTransition(ctx, store.TransitionRecord{BusinessID: "P1", ToStatus: "A", Classification: lattice.ClassNormal})
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInChunkCommitsOnSuccess(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE current_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err := client.InChunk(ctx, func(tx store.Tx) error {
		return tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P1", Status: "B"}, 3)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateWithStaleVersionConflicts(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE current_state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	err := client.InChunk(ctx, func(tx store.Tx) error {
		return tx.UpsertCurrent(ctx, store.BusinessRecord{BusinessID: "P1", Status: "B"}, 3)
	})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
