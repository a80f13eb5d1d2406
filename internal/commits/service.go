package commits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/florius0/delta/internal/jsonpatch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("history store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries an operation.reason code alongside its cause. The
// cause stays reachable through Unwrap, so callers can still match the
// error taxonomy with errors.As.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "commits.service.new"
	opList       = "commits.list"
	opGet        = "commits.get"
	opWrite      = "commits.write"
	opWriteMany  = "commits.write_many"
	opAddCommits = "commits.add_commits"
	opSquash     = "commits.squash"
	opDelete     = "commits.delete"

	reasonMissingStore      = "missing_store"
	reasonMissingIDProvider = "missing_id_provider"
	reasonValidationFailed  = "validation_failed"
	reasonStoreFailed       = "store_failed"
	reasonResolveFailed     = "resolve_failed"
	reasonIDFailed          = "id_generation_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the commit service.
type ServiceConfig struct {
	Store      Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service exposes the commit operations of the versioned-document core.
type Service struct {
	store      Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the commit service from its configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// NewCommitConfig describes an author-submitted edit from which the service
// builds a commit.
type NewCommitConfig struct {
	DocumentID       string
	PreviousCommitID string
	Patch            jsonpatch.Patch
	Meta             json.RawMessage
	Autosquash       bool
}

// NewCommit builds a commit with a freshly issued id and the service clock's
// update time. The commit is not validated or persisted.
func (s *Service) NewCommit(cfg NewCommitConfig) (Commit, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opWrite, reasonIDFailed, err)
		return Commit{}, newServiceError(opWrite, reasonIDFailed, err)
	}
	return Commit{
		ID:               id,
		PreviousCommitID: cfg.PreviousCommitID,
		DocumentID:       cfg.DocumentID,
		Autosquash:       cfg.Autosquash,
		Patch:            cfg.Patch,
		Meta:             cfg.Meta,
		UpdatedAt:        s.clock().UTC(),
	}, nil
}

// Validate checks a single commit's structural invariants.
func (s *Service) Validate(commit Commit) error {
	return Validate(commit)
}

// ValidateMany checks an ordered rootward-to-tipward commit list.
func (s *Service) ValidateMany(commitList []Commit) error {
	return ValidateMany(commitList)
}

// List returns every commit of the document, tip first.
func (s *Service) List(ctx context.Context, documentID string) ([]Commit, error) {
	commitList, err := s.store.List(ctx, documentID)
	if err != nil {
		s.logError(opList, reasonStoreFailed, err, zap.String("document_id", documentID))
		return nil, newServiceError(opList, reasonStoreFailed, err)
	}
	return commitList, nil
}

// ListRange returns the commits between toID and fromID, tip first. Empty
// ids select the current tip and the root respectively.
func (s *Service) ListRange(ctx context.Context, documentID, fromID, toID string) ([]Commit, error) {
	commitList, err := s.store.ListRange(ctx, documentID, fromID, toID)
	if err != nil {
		s.logError(opList, reasonStoreFailed, err, zap.String("document_id", documentID))
		return nil, newServiceError(opList, reasonStoreFailed, err)
	}
	return commitList, nil
}

// Get returns a single commit of the document.
func (s *Service) Get(ctx context.Context, documentID, commitID string) (Commit, error) {
	commit, err := s.store.Get(ctx, documentID, commitID)
	if err != nil {
		s.logError(opGet, reasonStoreFailed, err, zap.String("commit_id", commitID))
		return Commit{}, newServiceError(opGet, reasonStoreFailed, err)
	}
	return commit, nil
}

// Write appends one commit to its document's history under strict linear
// append: the commit's parent must be the current tip.
func (s *Service) Write(ctx context.Context, commit Commit) (Commit, error) {
	written, err := s.store.Write(ctx, commit)
	if err != nil {
		s.logError(opWrite, reasonStoreFailed, err, zap.String("commit_id", commit.ID))
		return Commit{}, newServiceError(opWrite, reasonStoreFailed, err)
	}
	return written, nil
}

// WriteMany appends an ordered chain of commits atomically.
func (s *Service) WriteMany(ctx context.Context, commitList []Commit) ([]Commit, error) {
	written, err := s.store.WriteMany(ctx, commitList)
	if err != nil {
		s.logError(opWriteMany, reasonStoreFailed, err)
		return nil, newServiceError(opWriteMany, reasonStoreFailed, err)
	}
	return written, nil
}

// AddCommits validates the incoming chain, resolves it against the current
// history, and persists the result, all in one transaction. A rebase happens
// silently; an unresolvable overlap aborts with a ConflictError.
func (s *Service) AddCommits(ctx context.Context, incoming []Commit) ([]Commit, error) {
	if len(incoming) == 0 {
		return []Commit{}, nil
	}
	if err := ValidateMany(incoming); err != nil {
		s.logError(opAddCommits, reasonValidationFailed, err)
		return nil, newServiceError(opAddCommits, reasonValidationFailed, err)
	}

	documentID := incoming[0].DocumentID
	var accepted []Commit
	txErr := s.store.Atomically(ctx, func(h History) error {
		history, err := h.List(ctx, documentID)
		if err != nil {
			return err
		}
		resolved, err := ResolveConflicts(incoming, history)
		if err != nil {
			return err
		}
		accepted, err = h.WriteMany(ctx, resolved)
		return err
	})
	if txErr != nil {
		s.logError(opAddCommits, reasonResolveFailed, txErr, zap.String("document_id", documentID))
		return nil, newServiceError(opAddCommits, reasonResolveFailed, txErr)
	}
	return accepted, nil
}

// Squash merges the commit named by laterID into its direct predecessor
// named by earlierID atomically.
func (s *Service) Squash(ctx context.Context, earlierID, laterID string) (Commit, error) {
	merged, err := s.store.Squash(ctx, earlierID, laterID)
	if err != nil {
		s.logError(opSquash, reasonStoreFailed, err,
			zap.String("earlier_commit_id", earlierID),
			zap.String("later_commit_id", laterID))
		return Commit{}, newServiceError(opSquash, reasonStoreFailed, err)
	}
	return merged, nil
}

// Delete removes a commit by id. Deleting an absent commit succeeds.
func (s *Service) Delete(ctx context.Context, commitID string) error {
	if err := s.store.Delete(ctx, commitID); err != nil {
		s.logError(opDelete, reasonStoreFailed, err, zap.String("commit_id", commitID))
		return newServiceError(opDelete, reasonStoreFailed, err)
	}
	return nil
}

// ResolveConflicts exposes the pure resolution step.
func (s *Service) ResolveConflicts(incoming, history []Commit) ([]Commit, error) {
	return ResolveConflicts(incoming, history)
}

// Overlap reports whether two commits' forward patches touch a common path.
func (s *Service) Overlap(first, second Commit) bool {
	return Overlap(first, second)
}

// ID coerces a commit, a commit pointer, or a bare identifier to the commit
// id string.
func ID(value any) (string, error) {
	switch v := value.(type) {
	case Commit:
		return v.ID, nil
	case *Commit:
		if v == nil {
			return "", &ValidationError{Struct: structCommit, Field: fieldID, Expected: expectedUUID, Got: nil}
		}
		return v.ID, nil
	case uuid.UUID:
		return v.String(), nil
	case string:
		if !CanonicalUUID(v) {
			return "", &ValidationError{Struct: structCommit, Field: fieldID, Expected: expectedUUID, Got: v}
		}
		return v, nil
	default:
		return "", &ValidationError{Struct: structCommit, Field: fieldID, Expected: "commit or uuid", Got: value}
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("commits service error", attrs...)
}
