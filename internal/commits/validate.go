package commits

import (
	"fmt"

	"github.com/florius0/delta/internal/jsonpatch"
	"github.com/google/uuid"
)

const (
	fieldID               = "id"
	fieldPreviousCommitID = "previous_commit_id"
	fieldDocumentID       = "document_id"
	fieldPatch            = "patch"

	expectedUUID      = "canonical lowercase uuid"
	expectedMaybeUUID = "canonical lowercase uuid or absent"
	expectedPatch     = "structurally valid json patch"
)

// CanonicalUUID reports whether the value is in the canonical lowercase
// 8-4-4-4-12 form.
func CanonicalUUID(value string) bool {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return false
	}
	return parsed.String() == value
}

func validateUUID(structName, fieldName, value string) *ValidationError {
	if !CanonicalUUID(value) {
		return &ValidationError{Struct: structName, Field: fieldName, Expected: expectedUUID, Got: value}
	}
	return nil
}

func validateMaybeUUID(structName, fieldName, value string) *ValidationError {
	if value == "" {
		return nil
	}
	if !CanonicalUUID(value) {
		return &ValidationError{Struct: structName, Field: fieldName, Expected: expectedMaybeUUID, Got: value}
	}
	return nil
}

func validatePatch(structName, fieldName string, patch jsonpatch.Patch) *ValidationError {
	if err := jsonpatch.Validate(patch); err != nil {
		return &ValidationError{Struct: structName, Field: fieldName, Expected: expectedPatch, Got: err.Error()}
	}
	return nil
}

// Validate checks a single commit's structural invariants, failing fast on
// the first offending field.
func Validate(commit Commit) error {
	if err := validateUUID(structCommit, fieldID, commit.ID); err != nil {
		return err
	}
	if err := validateMaybeUUID(structCommit, fieldPreviousCommitID, commit.PreviousCommitID); err != nil {
		return err
	}
	if err := validateUUID(structCommit, fieldDocumentID, commit.DocumentID); err != nil {
		return err
	}
	if err := validatePatch(structCommit, fieldPatch, commit.Patch); err != nil {
		return err
	}
	if commit.ID == commit.PreviousCommitID {
		return &ValidationError{
			Struct:   structCommit,
			Field:    fieldPreviousCommitID,
			Expected: "id distinct from previous_commit_id",
			Got:      commit.PreviousCommitID,
		}
	}
	return nil
}

// ValidateMany checks an ordered commit list, rootward first. Every commit
// must pass single-commit validation, link to its predecessor in the list,
// and share one document; the first commit's parent must lie outside the
// submitted chain.
func ValidateMany(commitList []Commit) error {
	if len(commitList) == 0 {
		return nil
	}
	for _, commit := range commitList {
		if err := Validate(commit); err != nil {
			return err
		}
	}
	for index := 1; index < len(commitList); index++ {
		if commitList[index].PreviousCommitID != commitList[index-1].ID {
			return &ValidationError{
				Struct:   structCommit,
				Field:    fieldPreviousCommitID,
				Expected: fmt.Sprintf("successor of %s", commitList[index-1].ID),
				Got:      commitList[index].PreviousCommitID,
			}
		}
	}
	documentID := commitList[0].DocumentID
	for index := 1; index < len(commitList); index++ {
		if commitList[index].DocumentID != documentID {
			return &ValidationError{
				Struct:   structCommit,
				Field:    fieldDocumentID,
				Expected: documentID,
				Got:      commitList[index].DocumentID,
			}
		}
	}
	firstParent := commitList[0].PreviousCommitID
	if firstParent != "" {
		for _, commit := range commitList {
			if commit.ID == firstParent {
				return &ValidationError{
					Struct:   structCommit,
					Field:    fieldPreviousCommitID,
					Expected: "parent outside the submitted chain",
					Got:      firstParent,
				}
			}
		}
	}
	return nil
}
