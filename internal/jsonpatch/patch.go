package jsonpatch

import (
	"errors"
	"fmt"
	"strings"
)

// Op identifies a patch operation kind.
type Op string

const (
	// OpAdd prepends to a list target or force-sets a non-list target.
	OpAdd Op = "add"
	// OpRemove removes a value from a list target or deletes a scalar target.
	OpRemove Op = "remove"
	// OpReplace force-sets the target path.
	OpReplace Op = "replace"
	// OpMove relocates the value at From to the target path.
	OpMove Op = "move"
	// OpCopy duplicates the value at From onto the target path.
	OpCopy Op = "copy"
	// OpTest asserts a value without changing state.
	OpTest Op = "test"
	// OpUpdate force-sets the target path, creating missing containers.
	OpUpdate Op = "update"
	// OpDelete removes the target path, tolerating its absence.
	OpDelete Op = "delete"
)

var (
	// ErrInvalidPatch indicates a structurally malformed patch.
	ErrInvalidPatch = errors.New("jsonpatch: invalid patch")
	// ErrInvalidPath indicates a malformed path pointer.
	ErrInvalidPath = errors.New("jsonpatch: invalid path")
)

// Operation is a single edit against a path in a JSON value.
type Operation struct {
	Op    Op     `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value"`
}

// Patch is an ordered list of operations applied left to right.
type Patch []Operation

var knownOps = map[Op]struct{}{
	OpAdd:     {},
	OpRemove:  {},
	OpReplace: {},
	OpMove:    {},
	OpCopy:    {},
	OpTest:    {},
	OpUpdate:  {},
	OpDelete:  {},
}

// KnownOp reports whether the operation kind is recognized.
func KnownOp(op Op) bool {
	_, ok := knownOps[op]
	return ok
}

// Validate performs the structural check of a patch: every operation carries
// a recognized op, a parseable path, and a parseable from when required.
func Validate(patch Patch) error {
	for index, operation := range patch {
		if !KnownOp(operation.Op) {
			return fmt.Errorf("%w: unknown op %q at index %d", ErrInvalidPatch, operation.Op, index)
		}
		if _, err := ParsePath(operation.Path); err != nil {
			return fmt.Errorf("%w: op %d: %v", ErrInvalidPatch, index, err)
		}
		if operation.Op == OpMove || operation.Op == OpCopy {
			if _, err := ParsePath(operation.From); err != nil {
				return fmt.Errorf("%w: op %d from: %v", ErrInvalidPatch, index, err)
			}
		}
	}
	return nil
}

// ParsePath splits a pointer path into its segments, unescaping ~1 and ~0.
func ParsePath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, path)
	}
	rawSegments := strings.Split(path[1:], "/")
	segments := make([]string, 0, len(rawSegments))
	for _, rawSegment := range rawSegments {
		if rawSegment == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		unescaped := strings.ReplaceAll(rawSegment, "~1", "/")
		unescaped = strings.ReplaceAll(unescaped, "~0", "~")
		segments = append(segments, unescaped)
	}
	return segments, nil
}

// Paths returns the paths touched by the patch in operation order. A move or
// copy contributes both its target and its source.
func Paths(patch Patch) []string {
	paths := make([]string, 0, len(patch))
	for _, operation := range patch {
		paths = append(paths, operation.Path)
		if operation.From != "" {
			paths = append(paths, operation.From)
		}
	}
	return paths
}

// SamePaths reports whether two patches touch exactly the same set of paths.
func SamePaths(first, second Patch) bool {
	firstSet := pathSet(first)
	secondSet := pathSet(second)
	if len(firstSet) != len(secondSet) {
		return false
	}
	for path := range firstSet {
		if _, ok := secondSet[path]; !ok {
			return false
		}
	}
	return true
}

func pathSet(patch Patch) map[string]struct{} {
	set := make(map[string]struct{}, len(patch))
	for _, path := range Paths(patch) {
		set[path] = struct{}{}
	}
	return set
}
