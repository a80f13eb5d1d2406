package commits

import (
	"context"
	"errors"
	"time"

	"github.com/florius0/delta/internal/jsonpatch"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

const (
	queryCommitID          = "commit_id = ?"
	queryDocumentID        = "document_id = ?"
	queryDocumentSuccessor = "document_id = ? AND previous_commit_id = ?"
	queryDocumentOrderSpan = "document_id = ? AND commit_order BETWEEN ? AND ?"
	orderTipFirst          = "commit_order DESC"
)

// GormStoreConfig describes the dependencies of the GORM history store.
type GormStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// GormStore persists commit chains in a relational database behind the Store
// contract. Every public operation runs in its own transaction; Atomically
// groups several operations into one.
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormStore constructs a GormStore from its configuration.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: cfg.Database, clock: clock}, nil
}

// Atomically runs fn against a transaction-scoped History. A non-nil error
// from fn rolls the whole transaction back and is returned unchanged.
func (s *GormStore) Atomically(ctx context.Context, fn func(History) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormHistory{db: tx, clock: s.clock})
	})
}

// List implements History for single-operation use.
func (s *GormStore) List(ctx context.Context, documentID string) ([]Commit, error) {
	var commitList []Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		commitList, innerErr = h.List(ctx, documentID)
		return innerErr
	})
	return commitList, err
}

// ListRange implements History for single-operation use.
func (s *GormStore) ListRange(ctx context.Context, documentID, fromID, toID string) ([]Commit, error) {
	var commitList []Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		commitList, innerErr = h.ListRange(ctx, documentID, fromID, toID)
		return innerErr
	})
	return commitList, err
}

// Get implements History for single-operation use.
func (s *GormStore) Get(ctx context.Context, documentID, commitID string) (Commit, error) {
	var commit Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		commit, innerErr = h.Get(ctx, documentID, commitID)
		return innerErr
	})
	return commit, err
}

// Write implements History for single-operation use.
func (s *GormStore) Write(ctx context.Context, commit Commit) (Commit, error) {
	var written Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		written, innerErr = h.Write(ctx, commit)
		return innerErr
	})
	return written, err
}

// WriteMany implements History for single-operation use.
func (s *GormStore) WriteMany(ctx context.Context, commitList []Commit) ([]Commit, error) {
	var written []Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		written, innerErr = h.WriteMany(ctx, commitList)
		return innerErr
	})
	return written, err
}

// Squash implements History for single-operation use.
func (s *GormStore) Squash(ctx context.Context, earlierID, laterID string) (Commit, error) {
	var merged Commit
	err := s.Atomically(ctx, func(h History) error {
		var innerErr error
		merged, innerErr = h.Squash(ctx, earlierID, laterID)
		return innerErr
	})
	return merged, err
}

// Delete implements History for single-operation use.
func (s *GormStore) Delete(ctx context.Context, commitID string) error {
	return s.Atomically(ctx, func(h History) error {
		return h.Delete(ctx, commitID)
	})
}

// gormHistory binds the History operations to one open transaction.
type gormHistory struct {
	db    *gorm.DB
	clock func() time.Time
}

func (h *gormHistory) List(ctx context.Context, documentID string) ([]Commit, error) {
	var records []Record
	if err := h.db.WithContext(ctx).
		Where(queryDocumentID, documentID).
		Order(orderTipFirst).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return fromRecords(records)
}

func (h *gormHistory) ListRange(ctx context.Context, documentID, fromID, toID string) ([]Commit, error) {
	upperOrder, err := h.rangeBound(ctx, documentID, fromID, true)
	if err != nil {
		return nil, err
	}
	lowerOrder, err := h.rangeBound(ctx, documentID, toID, false)
	if err != nil {
		return nil, err
	}
	if upperOrder < lowerOrder {
		return []Commit{}, nil
	}

	var records []Record
	if err := h.db.WithContext(ctx).
		Where(queryDocumentOrderSpan, documentID, lowerOrder, upperOrder).
		Order(orderTipFirst).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return fromRecords(records)
}

// rangeBound resolves a range endpoint to a commit order. An empty id means
// the current tip for the upper bound and the root for the lower bound.
func (h *gormHistory) rangeBound(ctx context.Context, documentID, commitID string, upper bool) (int64, error) {
	if commitID == "" {
		if !upper {
			return 0, nil
		}
		tip, found, err := h.tip(ctx, documentID)
		if err != nil {
			return 0, err
		}
		if !found {
			return -1, nil
		}
		return tip.CommitOrder, nil
	}
	bound, err := h.Get(ctx, documentID, commitID)
	if err != nil {
		return 0, err
	}
	return bound.Order, nil
}

func (h *gormHistory) Get(ctx context.Context, documentID, commitID string) (Commit, error) {
	query := h.db.WithContext(ctx).Where(queryCommitID, commitID)
	if documentID != "" {
		query = query.Where(queryDocumentID, documentID)
	}
	var record Record
	if err := query.Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Commit{}, &DoesNotExistError{Struct: structCommit, ID: commitID}
		}
		return Commit{}, err
	}
	return fromRecord(record)
}

func (h *gormHistory) Write(ctx context.Context, commit Commit) (Commit, error) {
	if err := Validate(commit); err != nil {
		return Commit{}, err
	}

	var duplicate Record
	err := h.db.WithContext(ctx).Where(queryCommitID, commit.ID).Take(&duplicate).Error
	if err == nil {
		return Commit{}, &AlreadyExistError{Struct: structCommit, ID: commit.ID}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Commit{}, err
	}

	history, err := h.lockedHistory(ctx, commit.DocumentID)
	if err != nil {
		return Commit{}, err
	}

	if commit.UpdatedAt.IsZero() {
		commit.UpdatedAt = h.clock().UTC()
	}

	if commit.PreviousCommitID == "" {
		if len(history) > 0 {
			root := history[len(history)-1]
			return Commit{}, &AlreadyExistError{Struct: structCommit, ID: root.ID}
		}
		commit.Order = 0
	} else {
		if err := h.requireDocument(ctx, commit.DocumentID); err != nil {
			return Commit{}, err
		}
		parent, found := findCommit(history, commit.PreviousCommitID)
		if !found {
			return Commit{}, &DoesNotExistError{Struct: structCommit, ID: commit.PreviousCommitID}
		}
		if occupant, taken := findSuccessor(history, commit.PreviousCommitID); taken {
			return Commit{}, &AlreadyExistError{Struct: structCommit, ID: occupant.ID}
		}
		commit.Order = parent.Order + 1
	}

	stateBefore := foldState(history)
	commit.ReversePatch = jsonpatch.Invert(stateBefore, commit.Patch)

	if len(history) > 0 {
		tip := history[0]
		if commit.PreviousCommitID == tip.ID && CanAutosquash(tip, commit) {
			return h.squashIntoTip(ctx, tip, commit)
		}
	}

	record, err := toRecord(commit)
	if err != nil {
		return Commit{}, err
	}
	if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Commit{}, err
	}
	if err := h.touchDocument(ctx, commit.DocumentID, commit.PreviousCommitID == ""); err != nil {
		return Commit{}, err
	}
	return commit, nil
}

func (h *gormHistory) WriteMany(ctx context.Context, commitList []Commit) ([]Commit, error) {
	written := make([]Commit, 0, len(commitList))
	for _, commit := range commitList {
		persisted, err := h.Write(ctx, commit)
		if err != nil {
			return nil, err
		}
		written = append(written, persisted)
	}
	return written, nil
}

func (h *gormHistory) Squash(ctx context.Context, earlierID, laterID string) (Commit, error) {
	earlier, err := h.Get(ctx, "", earlierID)
	if err != nil {
		return Commit{}, err
	}
	later, err := h.Get(ctx, "", laterID)
	if err != nil {
		return Commit{}, err
	}
	if earlier.DocumentID != later.DocumentID {
		return Commit{}, &ValidationError{
			Struct:   structCommit,
			Field:    fieldDocumentID,
			Expected: earlier.DocumentID,
			Got:      later.DocumentID,
		}
	}
	if later.PreviousCommitID != earlier.ID {
		return Commit{}, &ValidationError{
			Struct:   structCommit,
			Field:    fieldPreviousCommitID,
			Expected: "direct successor of " + earlier.ID,
			Got:      later.PreviousCommitID,
		}
	}

	merged := DoSquash(earlier, later)
	mergedRecord, err := toRecord(merged)
	if err != nil {
		return Commit{}, err
	}
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryCommitID, earlier.ID).
		Updates(map[string]any{
			"autosquash":         mergedRecord.Autosquash,
			"patch_json":         mergedRecord.PatchJSON,
			"reverse_patch_json": mergedRecord.ReversePatchJSON,
			"meta_json":          mergedRecord.MetaJSON,
			"updated_at_s":       mergedRecord.UpdatedAtSeconds,
		}).Error; err != nil {
		return Commit{}, err
	}

	// The absorbed row must disappear before its successor is re-parented,
	// otherwise the successor uniqueness index rejects the update.
	if err := h.db.WithContext(ctx).Where(queryCommitID, later.ID).Delete(&Record{}).Error; err != nil {
		return Commit{}, err
	}
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryDocumentSuccessor, later.DocumentID, later.ID).
		Update("previous_commit_id", earlier.ID).Error; err != nil {
		return Commit{}, err
	}
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where("document_id = ? AND commit_order > ?", later.DocumentID, later.Order).
		Update("commit_order", gorm.Expr("commit_order - 1")).Error; err != nil {
		return Commit{}, err
	}
	if err := h.touchDocument(ctx, later.DocumentID, false); err != nil {
		return Commit{}, err
	}
	return merged, nil
}

func (h *gormHistory) Delete(ctx context.Context, commitID string) error {
	return h.db.WithContext(ctx).Where(queryCommitID, commitID).Delete(&Record{}).Error
}

// squashIntoTip folds an incoming autosquash commit into the current tip in
// place, preserving the tip's id, parent linkage, and order.
func (h *gormHistory) squashIntoTip(ctx context.Context, tip, incoming Commit) (Commit, error) {
	merged := DoSquash(tip, incoming)
	mergedRecord, err := toRecord(merged)
	if err != nil {
		return Commit{}, err
	}
	if err := h.db.WithContext(ctx).
		Model(&Record{}).
		Where(queryCommitID, tip.ID).
		Updates(map[string]any{
			"autosquash":         mergedRecord.Autosquash,
			"patch_json":         mergedRecord.PatchJSON,
			"reverse_patch_json": mergedRecord.ReversePatchJSON,
			"meta_json":          mergedRecord.MetaJSON,
			"updated_at_s":       mergedRecord.UpdatedAtSeconds,
		}).Error; err != nil {
		return Commit{}, err
	}
	if err := h.touchDocument(ctx, tip.DocumentID, false); err != nil {
		return Commit{}, err
	}
	return merged, nil
}

func (h *gormHistory) lockedHistory(ctx context.Context, documentID string) ([]Commit, error) {
	var records []Record
	if err := h.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryDocumentID, documentID).
		Order(orderTipFirst).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return fromRecords(records)
}

func (h *gormHistory) tip(ctx context.Context, documentID string) (Record, bool, error) {
	var record Record
	err := h.db.WithContext(ctx).
		Where(queryDocumentID, documentID).
		Order(orderTipFirst).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (h *gormHistory) requireDocument(ctx context.Context, documentID string) error {
	var document Document
	err := h.db.WithContext(ctx).Where(queryDocumentID, documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DoesNotExistError{Struct: structDocument, ID: documentID}
	}
	return err
}

// touchDocument keeps the documents table in step with its history: the root
// write creates the row, every later mutation bumps its update time.
func (h *gormHistory) touchDocument(ctx context.Context, documentID string, create bool) error {
	now := h.clock().UTC().Unix()
	if create {
		var document Document
		err := h.db.WithContext(ctx).Where(queryDocumentID, documentID).Take(&document).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return h.db.WithContext(ctx).Create(&Document{
				DocumentID:       documentID,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return h.db.WithContext(ctx).
		Model(&Document{}).
		Where(queryDocumentID, documentID).
		Update("updated_at_s", now).Error
}

func findCommit(history []Commit, commitID string) (Commit, bool) {
	for _, commit := range history {
		if commit.ID == commitID {
			return commit, true
		}
	}
	return Commit{}, false
}

func findSuccessor(history []Commit, parentID string) (Commit, bool) {
	for _, commit := range history {
		if commit.PreviousCommitID == parentID {
			return commit, true
		}
	}
	return Commit{}, false
}

// foldState materializes the document state at the tip of the given history
// (tip first) by folding patches rootward to tipward with an explicit
// accumulator.
func foldState(history []Commit) any {
	state := any(map[string]any{})
	for index := len(history) - 1; index >= 0; index-- {
		state = jsonpatch.Apply(state, history[index].Patch)
	}
	return state
}
