package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/florius0/delta/internal/commits"
	"github.com/florius0/delta/internal/documents"
	"github.com/florius0/delta/internal/jsonpatch"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	paramDocumentID = "documentID"
	paramCommitID   = "commitID"

	heartbeatInterval = 25 * time.Second
)

var (
	errMissingCommitsService   = errors.New("commits service dependency required")
	errMissingDocumentsService = errors.New("documents service dependency required")
)

type Dependencies struct {
	CommitsService   *commits.Service
	DocumentsService *documents.Service
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.CommitsService == nil {
		return nil, errMissingCommitsService
	}
	if deps.DocumentsService == nil {
		return nil, errMissingDocumentsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		commitsService:   deps.CommitsService,
		documentsService: deps.DocumentsService,
		realtime:         realtime,
		logger:           logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/documents", handler.handleCreateDocument)
	router.GET("/documents/:documentID", handler.handleDocumentState)
	router.GET("/documents/:documentID/commits", handler.handleListCommits)
	router.POST("/documents/:documentID/commits", handler.handleAddCommits)
	router.GET("/documents/:documentID/commits/:commitID", handler.handleGetCommit)
	router.POST("/documents/:documentID/commits/:commitID/squash", handler.handleSquashCommit)
	router.DELETE("/documents/:documentID/commits/:commitID", handler.handleDeleteCommit)
	router.GET("/documents/:documentID/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	commitsService   *commits.Service
	documentsService *documents.Service
	realtime         *RealtimeDispatcher
	logger           *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	document, err := h.documentsService.Create(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document_id": document.DocumentID})
}

func (h *httpHandler) handleDocumentState(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	state, err := h.documentsService.Materialize(c.Request.Context(), documentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": documentID, "state": state})
}

func (h *httpHandler) handleListCommits(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	fromID := c.Query("from")
	toID := c.Query("to")

	var commitList []commits.Commit
	var err error
	if fromID == "" && toID == "" {
		commitList, err = h.commitsService.List(c.Request.Context(), documentID)
	} else {
		commitList, err = h.commitsService.ListRange(c.Request.Context(), documentID, fromID, toID)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commits": commitList})
}

type commitPayload struct {
	ID               string          `json:"id"`
	PreviousCommitID string          `json:"previous_commit_id"`
	Autosquash       bool            `json:"autosquash"`
	Patch            jsonpatch.Patch `json:"patch"`
	Meta             json.RawMessage `json:"meta"`
}

type addCommitsRequestPayload struct {
	Commits []commitPayload `json:"commits"`
}

func (h *httpHandler) handleAddCommits(c *gin.Context) {
	documentID := c.Param(paramDocumentID)

	var request addCommitsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Commits) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	chain := make([]commits.Commit, 0, len(request.Commits))
	for index, payload := range request.Commits {
		commit := commits.Commit{
			ID:               payload.ID,
			PreviousCommitID: payload.PreviousCommitID,
			DocumentID:       documentID,
			Autosquash:       payload.Autosquash,
			Patch:            payload.Patch,
			Meta:             payload.Meta,
		}
		if commit.ID == "" {
			issued, err := h.commitsService.NewCommit(commits.NewCommitConfig{
				DocumentID:       documentID,
				PreviousCommitID: payload.PreviousCommitID,
				Patch:            payload.Patch,
				Meta:             payload.Meta,
				Autosquash:       payload.Autosquash,
			})
			if err != nil {
				h.writeError(c, err)
				return
			}
			commit = issued
		}
		if index > 0 && commit.PreviousCommitID == "" {
			commit.PreviousCommitID = chain[index-1].ID
		}
		chain = append(chain, commit)
	}

	accepted, err := h.commitsService.AddCommits(c.Request.Context(), chain)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(documentID, RealtimeEventCommitAppended, commitIDs(accepted))
	c.JSON(http.StatusOK, gin.H{"commits": accepted})
}

func (h *httpHandler) handleGetCommit(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	commitID := c.Param(paramCommitID)

	commit, err := h.commitsService.Get(c.Request.Context(), documentID, commitID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commit": commit})
}

type squashRequestPayload struct {
	LaterCommitID string `json:"later_commit_id"`
}

func (h *httpHandler) handleSquashCommit(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	earlierID := c.Param(paramCommitID)

	var request squashRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.LaterCommitID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	merged, err := h.commitsService.Squash(c.Request.Context(), earlierID, request.LaterCommitID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(documentID, RealtimeEventCommitSquashed, []string{merged.ID})
	c.JSON(http.StatusOK, gin.H{"commit": merged})
}

func (h *httpHandler) handleDeleteCommit(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	commitID := c.Param(paramCommitID)

	if err := h.commitsService.Delete(c.Request.Context(), commitID); err != nil {
		h.writeError(c, err)
		return
	}

	h.publish(documentID, RealtimeEventCommitDeleted, []string{commitID})
	c.JSON(http.StatusOK, gin.H{"deleted": commitID})
}

type eventStreamPayload struct {
	CommitIDs []string `json:"commitIds"`
	Timestamp int64    `json:"timestamp"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	documentID := c.Param(paramDocumentID)
	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), documentID)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			payload, err := json.Marshal(eventStreamPayload{
				CommitIDs: message.CommitIDs,
				Timestamp: message.Timestamp.Unix(),
			})
			if err != nil {
				h.logger.Error("failed to encode realtime event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.EventType, payload)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", realtimeEventHeartbeat)
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) publish(documentID, eventType string, ids []string) {
	h.realtime.Publish(RealtimeMessage{
		DocumentID: documentID,
		EventType:  eventType,
		CommitIDs:  ids,
		Timestamp:  time.Now().UTC(),
	})
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	var validationErr *commits.ValidationError
	var conflictErr *commits.ConflictError
	var doesNotExist *commits.DoesNotExistError
	var alreadyExist *commits.AlreadyExistError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "validation_failed",
			"struct":   validationErr.Struct,
			"field":    validationErr.Field,
			"expected": validationErr.Expected,
			"got":      fmt.Sprintf("%v", validationErr.Got),
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":          "conflict",
			"commit_id":      conflictErr.CommitID,
			"conflicts_with": conflictErr.ConflictsWith,
		})
	case errors.As(err, &doesNotExist):
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "does_not_exist",
			"struct": doesNotExist.Struct,
			"id":     doesNotExist.ID,
		})
	case errors.As(err, &alreadyExist):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "already_exists",
			"struct": alreadyExist.Struct,
			"id":     alreadyExist.ID,
		})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func commitIDs(commitList []commits.Commit) []string {
	ids := make([]string, 0, len(commitList))
	for _, commit := range commitList {
		ids = append(ids, commit.ID)
	}
	return ids
}
