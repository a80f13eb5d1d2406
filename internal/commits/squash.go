package commits

import "github.com/florius0/delta/internal/jsonpatch"

// DoSquash merges two consecutive commits into the single equivalent commit.
// The earlier commit survives: it keeps its id, parent linkage, and order,
// and absorbs the later commit's autosquash flag, meta, and update time. The
// forward patch composes earlier-then-later; the reverse patch composes in
// the opposite order so that it undoes the composed forward edit.
//
// Both commits must belong to the same document and the later commit must be
// the earlier's direct successor; callers are responsible for that.
func DoSquash(earlier, later Commit) Commit {
	merged := earlier
	merged.Autosquash = later.Autosquash
	merged.Meta = later.Meta
	merged.UpdatedAt = later.UpdatedAt
	merged.Patch = jsonpatch.Squash(earlier.Patch, later.Patch)
	merged.ReversePatch = jsonpatch.Squash(later.ReversePatch, earlier.ReversePatch)
	return merged
}

// CanAutosquash reports whether an incoming commit should merge in place
// with the current tip: both must opt in and their patches must target
// exactly the same path set. An opted-out commit touching those paths is
// written as a distinct commit, which ends the autosquash run.
func CanAutosquash(tip, incoming Commit) bool {
	return tip.Autosquash && incoming.Autosquash && jsonpatch.SamePaths(tip.Patch, incoming.Patch)
}
