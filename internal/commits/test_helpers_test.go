package commits

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/florius0/delta/internal/jsonpatch"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var testClockTime = time.Unix(1750000000, 0).UTC()

func newTestCommit(t *testing.T, documentID, previousCommitID string, patch jsonpatch.Patch) Commit {
	t.Helper()
	return Commit{
		ID:               uuid.NewString(),
		PreviousCommitID: previousCommitID,
		DocumentID:       documentID,
		Patch:            patch,
		UpdatedAt:        testClockTime,
	}
}

func updateOp(path string, value any) jsonpatch.Patch {
	return jsonpatch.Patch{{Op: jsonpatch.OpUpdate, Path: path, Value: value}}
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()

	dsn := fmt.Sprintf("file:delta_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewGormStore(GormStoreConfig{
		Database: db,
		Clock:    func() time.Time { return testClockTime },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func mustWrite(t *testing.T, store *GormStore, commit Commit) Commit {
	t.Helper()
	written, err := store.Write(context.Background(), commit)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	return written
}
