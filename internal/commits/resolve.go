package commits

import "github.com/florius0/delta/internal/jsonpatch"

// Overlap reports whether the forward patches of two commits touch a common
// path.
func Overlap(first, second Commit) bool {
	return jsonpatch.Overlap(first.Patch, second.Patch)
}

// ResolveConflicts linearizes incoming commits onto the existing history.
// The incoming list is ordered rootward to tipward, history tipward to
// rootward. When the incoming chain already extends the tip it is returned
// unchanged; otherwise the history between the declared fork point and the
// tip is scanned for overlap with the first incoming commit. Overlap aborts
// with a ConflictError; no overlap rebases the first incoming commit onto
// the current tip, leaving the rest of the chain's internal linkage intact.
func ResolveConflicts(incoming, history []Commit) ([]Commit, error) {
	if len(incoming) == 0 {
		return []Commit{}, nil
	}
	if len(history) == 0 {
		return incoming, nil
	}

	tip := history[0]
	first := incoming[0]
	if first.PreviousCommitID == tip.ID {
		return incoming, nil
	}

	for _, existing := range history {
		if existing.ID == first.PreviousCommitID {
			break
		}
		if Overlap(first, existing) {
			return nil, &ConflictError{CommitID: first.ID, ConflictsWith: existing.ID}
		}
	}

	rebased := make([]Commit, len(incoming))
	copy(rebased, incoming)
	rebased[0].PreviousCommitID = tip.ID
	return rebased, nil
}
