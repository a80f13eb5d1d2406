package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/florius0/delta/internal/commits"
	"github.com/florius0/delta/internal/jsonpatch"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingStore      = errors.New("history store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "documents.service.new"
	opCreate      = "documents.create"
	opGet         = "documents.get"
	opMaterialize = "documents.materialize"

	reasonMissingDatabase   = "missing_database"
	reasonMissingStore      = "missing_store"
	reasonMissingIDProvider = "missing_id_provider"
	reasonIDFailed          = "id_generation_failed"
	reasonInsertFailed      = "insert_failed"
	reasonQueryFailed       = "query_failed"
	reasonListFailed        = "list_failed"
)

// ServiceError carries an operation.reason code alongside its cause.
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

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	Store      commits.Store
	Clock      func() time.Time
	IDProvider commits.IDProvider
	Logger     *zap.Logger
}

// Service manages document identities and materializes document state from
// commit history. State is always derived by folding patches; it is never
// stored.
type Service struct {
	db         *gorm.DB
	store      commits.Store
	clock      func() time.Time
	idProvider commits.IDProvider
	logger     *zap.Logger
}

// NewService constructs the document service from its configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
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
		db:         cfg.Database,
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create registers a new empty document and returns it.
func (s *Service) Create(ctx context.Context) (commits.Document, error) {
	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, reasonIDFailed, err)
		return commits.Document{}, newServiceError(opCreate, reasonIDFailed, err)
	}
	now := s.clock().UTC().Unix()
	document := commits.Document{
		DocumentID:       documentID,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&document).Error; err != nil {
		s.logError(opCreate, reasonInsertFailed, err, zap.String("document_id", documentID))
		return commits.Document{}, newServiceError(opCreate, reasonInsertFailed, err)
	}
	return document, nil
}

// Get returns a document by id.
func (s *Service) Get(ctx context.Context, documentID string) (commits.Document, error) {
	var document commits.Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return commits.Document{}, &commits.DoesNotExistError{Struct: "document", ID: documentID}
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String("document_id", documentID))
		return commits.Document{}, newServiceError(opGet, reasonQueryFailed, err)
	}
	return document, nil
}

// Materialize folds the document's commit chain into its current state.
func (s *Service) Materialize(ctx context.Context, documentID string) (any, error) {
	if _, err := s.Get(ctx, documentID); err != nil {
		return nil, err
	}
	history, err := s.store.List(ctx, documentID)
	if err != nil {
		s.logError(opMaterialize, reasonListFailed, err, zap.String("document_id", documentID))
		return nil, newServiceError(opMaterialize, reasonListFailed, err)
	}
	chain := make([]commits.Commit, 0, len(history))
	for index := len(history) - 1; index >= 0; index-- {
		chain = append(chain, history[index])
	}
	return ApplyChain(map[string]any{}, chain), nil
}

// ApplyCommit applies one commit's patch operations to a state value, left
// to right.
func ApplyCommit(state any, commit commits.Commit) any {
	return jsonpatch.Apply(state, commit.Patch)
}

// ApplyChain folds a rootward-to-tipward commit chain into a state value.
func ApplyChain(state any, chain []commits.Commit) any {
	current := state
	for _, commit := range chain {
		current = ApplyCommit(current, commit)
	}
	return current
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
	s.logger.Error("documents service error", attrs...)
}
