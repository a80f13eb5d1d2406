package jsonpatch

import "strings"

// Overlap reports whether the two patches touch a common path. Paths touch
// when they are equal or when one addresses a node inside the subtree the
// other addresses.
func Overlap(first, second Patch) bool {
	firstPaths := Paths(first)
	secondPaths := Paths(second)
	for _, firstPath := range firstPaths {
		for _, secondPath := range secondPaths {
			if pathsTouch(firstPath, secondPath) {
				return true
			}
		}
	}
	return false
}

func pathsTouch(first, second string) bool {
	if first == second {
		return true
	}
	return strings.HasPrefix(first, second+"/") || strings.HasPrefix(second, first+"/")
}

// Squash composes two patches: applying the result is equivalent to applying
// earlier and then later. A later force-set on the same path folds into the
// earlier operation, which keeps its kind and takes the later value, provided
// no other operation touching that path lies between the two; all other
// operations concatenate in order. When the earlier operation is an add on a
// path that holds a list, the folded add prepends the later value to the list
// rather than replacing the list.
func Squash(earlier, later Patch) Patch {
	consumed := make([]bool, len(later))
	composed := make(Patch, 0, len(earlier)+len(later))

	for position, operation := range earlier {
		merged := operation
		if isSetOp(operation.Op) && !touchesPath(earlier[position+1:], operation.Path) {
			for index, laterOperation := range later {
				if consumed[index] || !touchesPath(later[index:index+1], operation.Path) {
					continue
				}
				if laterOperation.Path != operation.Path || (laterOperation.Op != OpUpdate && laterOperation.Op != OpReplace) {
					break
				}
				merged.Value = laterOperation.Value
				consumed[index] = true
			}
		}
		composed = append(composed, merged)
	}

	for index, laterOperation := range later {
		if consumed[index] {
			continue
		}
		composed = append(composed, laterOperation)
	}
	return composed
}

func isSetOp(op Op) bool {
	return op == OpAdd || op == OpUpdate || op == OpReplace
}

// touchesPath reports whether any operation of the patch touches the path.
func touchesPath(patch Patch, path string) bool {
	for _, touched := range Paths(patch) {
		if pathsTouch(touched, path) {
			return true
		}
	}
	return false
}

// Invert derives the patch that undoes the given patch against the state it
// was applied to: applying the result to the post-state yields the pre-state.
// Undoing the removal of a value from a list prepends the value again, so the
// list's members are restored but not their order.
func Invert(before any, patch Patch) Patch {
	state := before
	inverted := make(Patch, 0, len(patch))
	for _, operation := range patch {
		inverted = append(inverted, invertOperation(state, operation)...)
		state = applyOperation(state, operation)
	}
	for left, right := 0, len(inverted)-1; left < right; left, right = left+1, right-1 {
		inverted[left], inverted[right] = inverted[right], inverted[left]
	}
	return inverted
}

func invertOperation(state any, operation Operation) []Operation {
	segments, err := ParsePath(operation.Path)
	if err != nil {
		return nil
	}
	previous, existed := getPath(state, segments)

	switch operation.Op {
	case OpUpdate, OpReplace, OpCopy:
		if existed {
			return []Operation{{Op: OpUpdate, Path: operation.Path, Value: previous}}
		}
		return []Operation{{Op: OpDelete, Path: operation.Path}}
	case OpAdd:
		if existed {
			if _, isList := previous.([]any); isList {
				return []Operation{{Op: OpRemove, Path: operation.Path, Value: operation.Value}}
			}
			return []Operation{{Op: OpUpdate, Path: operation.Path, Value: previous}}
		}
		return []Operation{{Op: OpDelete, Path: operation.Path}}
	case OpDelete:
		if existed {
			return []Operation{{Op: OpUpdate, Path: operation.Path, Value: previous}}
		}
		return nil
	case OpRemove:
		if !existed {
			return nil
		}
		if list, isList := previous.([]any); isList {
			if containsValue(list, operation.Value) {
				return []Operation{{Op: OpAdd, Path: operation.Path, Value: operation.Value}}
			}
			return nil
		}
		return []Operation{{Op: OpUpdate, Path: operation.Path, Value: previous}}
	case OpMove:
		fromSegments, fromErr := ParsePath(operation.From)
		if fromErr != nil {
			return nil
		}
		movedValue, fromExisted := getPath(state, fromSegments)
		if !fromExisted {
			return nil
		}
		restoreTarget := Operation{Op: OpDelete, Path: operation.Path}
		if existed {
			restoreTarget = Operation{Op: OpUpdate, Path: operation.Path, Value: previous}
		}
		return []Operation{restoreTarget, {Op: OpUpdate, Path: operation.From, Value: movedValue}}
	case OpTest:
		return nil
	}
	return nil
}
