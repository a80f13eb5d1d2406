package commits

import (
	"encoding/json"
	"time"

	"github.com/florius0/delta/internal/jsonpatch"
)

// Commit is one recorded edit in a document's linear history. A commit with
// an empty PreviousCommitID is the chain root.
type Commit struct {
	ID               string          `json:"id"`
	PreviousCommitID string          `json:"previous_commit_id,omitempty"`
	DocumentID       string          `json:"document_id"`
	Order            int64           `json:"order"`
	Autosquash       bool            `json:"autosquash"`
	Patch            jsonpatch.Patch `json:"patch"`
	ReversePatch     jsonpatch.Patch `json:"reverse_patch,omitempty"`
	Meta             json.RawMessage `json:"meta,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Record is the persisted form of a Commit. The unique successor index keeps
// history linear: at most one commit per document claims a given parent, and
// at most one commit per document is the root.
type Record struct {
	CommitID         string `gorm:"column:commit_id;primaryKey;size:36;not null"`
	DocumentID       string `gorm:"column:document_id;size:36;not null;index:idx_commits_document_order,priority:1;uniqueIndex:idx_commit_successor,priority:1"`
	PreviousCommitID string `gorm:"column:previous_commit_id;size:36;uniqueIndex:idx_commit_successor,priority:2"`
	CommitOrder      int64  `gorm:"column:commit_order;not null;index:idx_commits_document_order,priority:2"`
	Autosquash       bool   `gorm:"column:autosquash;not null"`
	PatchJSON        string `gorm:"column:patch_json;type:text;not null"`
	ReversePatchJSON string `gorm:"column:reverse_patch_json;type:text;not null"`
	MetaJSON         string `gorm:"column:meta_json;type:text"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "document_commits"
}

// Document identifies the owner of a commit chain. Its state is derived by
// folding the chain and is never stored independently.
type Document struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:36;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

func toRecord(commit Commit) (Record, error) {
	patchJSON, err := json.Marshal(commit.Patch)
	if err != nil {
		return Record{}, err
	}
	reversePatch := commit.ReversePatch
	if reversePatch == nil {
		reversePatch = jsonpatch.Patch{}
	}
	reversePatchJSON, err := json.Marshal(reversePatch)
	if err != nil {
		return Record{}, err
	}
	metaJSON := ""
	if len(commit.Meta) > 0 {
		metaJSON = string(commit.Meta)
	}
	return Record{
		CommitID:         commit.ID,
		DocumentID:       commit.DocumentID,
		PreviousCommitID: commit.PreviousCommitID,
		CommitOrder:      commit.Order,
		Autosquash:       commit.Autosquash,
		PatchJSON:        string(patchJSON),
		ReversePatchJSON: string(reversePatchJSON),
		MetaJSON:         metaJSON,
		UpdatedAtSeconds: commit.UpdatedAt.UTC().Unix(),
	}, nil
}

func fromRecord(record Record) (Commit, error) {
	var patch jsonpatch.Patch
	if err := json.Unmarshal([]byte(record.PatchJSON), &patch); err != nil {
		return Commit{}, err
	}
	var reversePatch jsonpatch.Patch
	if record.ReversePatchJSON != "" {
		if err := json.Unmarshal([]byte(record.ReversePatchJSON), &reversePatch); err != nil {
			return Commit{}, err
		}
	}
	var meta json.RawMessage
	if record.MetaJSON != "" {
		meta = json.RawMessage(record.MetaJSON)
	}
	return Commit{
		ID:               record.CommitID,
		PreviousCommitID: record.PreviousCommitID,
		DocumentID:       record.DocumentID,
		Order:            record.CommitOrder,
		Autosquash:       record.Autosquash,
		Patch:            patch,
		ReversePatch:     reversePatch,
		Meta:             meta,
		UpdatedAt:        time.Unix(record.UpdatedAtSeconds, 0).UTC(),
	}, nil
}

func fromRecords(records []Record) ([]Commit, error) {
	commitList := make([]Commit, 0, len(records))
	for _, record := range records {
		commit, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		commitList = append(commitList, commit)
	}
	return commitList, nil
}
