package documents

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/florius0/delta/internal/commits"
	"github.com/florius0/delta/internal/jsonpatch"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var testClockTime = time.Unix(1750000000, 0).UTC()

func newTestService(t *testing.T) (*Service, *commits.GormStore) {
	t.Helper()

	dsn := fmt.Sprintf("file:delta_documents_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&commits.Record{}, &commits.Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := commits.NewGormStore(commits.GormStoreConfig{
		Database: db,
		Clock:    func() time.Time { return testClockTime },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Store:      store,
		Clock:      func() time.Time { return testClockTime },
		IDProvider: commits.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct document service: %v", err)
	}
	return service, store
}

func writeChain(t *testing.T, store *commits.GormStore, documentID string, patches []jsonpatch.Patch) []commits.Commit {
	t.Helper()
	chain := make([]commits.Commit, 0, len(patches))
	previousID := ""
	for _, patch := range patches {
		commit := commits.Commit{
			ID:               uuid.NewString(),
			PreviousCommitID: previousID,
			DocumentID:       documentID,
			Patch:            patch,
			UpdatedAt:        testClockTime,
		}
		written, err := store.Write(context.Background(), commit)
		if err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
		chain = append(chain, written)
		previousID = written.ID
	}
	return chain
}

func TestCreateIssuesDocumentIdentity(t *testing.T) {
	service, _ := newTestService(t)

	document, err := service.Create(context.Background())
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if !commits.CanonicalUUID(document.DocumentID) {
		t.Fatalf("expected canonical document id, got %s", document.DocumentID)
	}

	loaded, err := service.Get(context.Background(), document.DocumentID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.DocumentID != document.DocumentID {
		t.Fatalf("unexpected document: %#v", loaded)
	}
}

func TestGetMissingDocumentReturnsDoesNotExist(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.Get(context.Background(), uuid.NewString())
	var doesNotExist *commits.DoesNotExistError
	if !errors.As(err, &doesNotExist) {
		t.Fatalf("expected DoesNotExistError, got %v", err)
	}
}

func TestMaterializeFoldsChainRootToTip(t *testing.T) {
	service, store := newTestService(t)
	documentID := uuid.NewString()
	writeChain(t, store, documentID, []jsonpatch.Patch{
		{{Op: jsonpatch.OpAdd, Path: "/title", Value: "draft"}},
		{{Op: jsonpatch.OpReplace, Path: "/title", Value: "final"}},
		{{Op: jsonpatch.OpUpdate, Path: "/body/text", Value: "hello"}},
	})

	state, err := service.Materialize(context.Background(), documentID)
	if err != nil {
		t.Fatalf("unexpected materialize error: %v", err)
	}
	expected := map[string]any{
		"title": "final",
		"body":  map[string]any{"text": "hello"},
	}
	if !reflect.DeepEqual(state, expected) {
		t.Fatalf("unexpected state: %#v", state)
	}
}

func TestMaterializeEmptyDocumentIsEmptyState(t *testing.T) {
	service, _ := newTestService(t)
	document, err := service.Create(context.Background())
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	state, err := service.Materialize(context.Background(), document.DocumentID)
	if err != nil {
		t.Fatalf("unexpected materialize error: %v", err)
	}
	if !reflect.DeepEqual(state, map[string]any{}) {
		t.Fatalf("expected empty state, got %#v", state)
	}
}

func TestApplyChainFoldsCommitsInOrder(t *testing.T) {
	documentID := uuid.NewString()
	first := commits.Commit{ID: uuid.NewString(), DocumentID: documentID, Patch: jsonpatch.Patch{{Op: jsonpatch.OpUpdate, Path: "/n", Value: 1}}}
	second := commits.Commit{ID: uuid.NewString(), DocumentID: documentID, PreviousCommitID: first.ID, Patch: jsonpatch.Patch{{Op: jsonpatch.OpUpdate, Path: "/n", Value: 2}}}

	state := ApplyChain(map[string]any{}, []commits.Commit{first, second})
	expected := map[string]any{"n": 2}
	if !reflect.DeepEqual(state, expected) {
		t.Fatalf("unexpected state: %#v", state)
	}
}
