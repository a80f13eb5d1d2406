package jsonpatch

import (
	"reflect"
	"testing"
)

func TestApplyUpdateCreatesIntermediateContainers(t *testing.T) {
	result := Apply(map[string]any{}, Patch{{Op: OpUpdate, Path: "/a/b", Value: 1}})
	expected := map[string]any{"a": map[string]any{"b": 1}}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyReplaceForceSetsValue(t *testing.T) {
	state := map[string]any{"y": 1}
	result := Apply(state, Patch{{Op: OpReplace, Path: "/y", Value: 2}})
	expected := map[string]any{"y": 2}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
	if state["y"] != 1 {
		t.Fatalf("expected input state to remain unchanged")
	}
}

func TestApplyDeleteIsIdempotentOnMissingPath(t *testing.T) {
	state := map[string]any{"a": 1}
	result := Apply(state, Patch{{Op: OpDelete, Path: "/missing"}})
	if !reflect.DeepEqual(result, state) {
		t.Fatalf("expected state unchanged, got %#v", result)
	}
}

func TestApplyDeleteRemovesNode(t *testing.T) {
	state := map[string]any{"a": 1, "b": 2}
	result := Apply(state, Patch{{Op: OpDelete, Path: "/a"}})
	expected := map[string]any{"b": 2}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyAddPrependsToList(t *testing.T) {
	state := map[string]any{"items": []any{"b", "c"}}
	result := Apply(state, Patch{{Op: OpAdd, Path: "/items", Value: "a"}})
	expected := map[string]any{"items": []any{"a", "b", "c"}}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyAddForceSetsNonList(t *testing.T) {
	state := map[string]any{"x": 1}
	result := Apply(state, Patch{{Op: OpAdd, Path: "/x", Value: 5}})
	expected := map[string]any{"x": 5}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyRemoveDropsFirstListOccurrence(t *testing.T) {
	state := map[string]any{"items": []any{"a", "b", "a"}}
	result := Apply(state, Patch{{Op: OpRemove, Path: "/items", Value: "a"}})
	expected := map[string]any{"items": []any{"b", "a"}}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyRemoveDeletesScalarNode(t *testing.T) {
	state := map[string]any{"x": 1, "y": 2}
	result := Apply(state, Patch{{Op: OpRemove, Path: "/x"}})
	expected := map[string]any{"y": 2}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyRemoveToleratesMissingPath(t *testing.T) {
	state := map[string]any{"x": 1}
	result := Apply(state, Patch{{Op: OpRemove, Path: "/gone"}})
	if !reflect.DeepEqual(result, state) {
		t.Fatalf("expected state unchanged, got %#v", result)
	}
}

func TestApplyMoveRelocatesValue(t *testing.T) {
	state := map[string]any{"a": 1}
	result := Apply(state, Patch{{Op: OpMove, Path: "/b", From: "/a"}})
	expected := map[string]any{"b": 1}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyCopyDuplicatesValue(t *testing.T) {
	state := map[string]any{"a": 1}
	result := Apply(state, Patch{{Op: OpCopy, Path: "/b", From: "/a"}})
	expected := map[string]any{"a": 1, "b": 1}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyTestLeavesStateUntouched(t *testing.T) {
	state := map[string]any{"a": 1}
	result := Apply(state, Patch{{Op: OpTest, Path: "/a", Value: 1}})
	if !reflect.DeepEqual(result, state) {
		t.Fatalf("expected state unchanged, got %#v", result)
	}
}

func TestApplyIndexesIntoLists(t *testing.T) {
	state := map[string]any{"items": []any{map[string]any{"n": 1}, map[string]any{"n": 2}}}
	result := Apply(state, Patch{{Op: OpUpdate, Path: "/items/1/n", Value: 9}})
	expected := map[string]any{"items": []any{map[string]any{"n": 1}, map[string]any{"n": 9}}}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}

func TestApplyChainFoldsLeftToRight(t *testing.T) {
	patch := Patch{
		{Op: OpUpdate, Path: "/a", Value: 1},
		{Op: OpUpdate, Path: "/a", Value: 2},
		{Op: OpDelete, Path: "/b"},
	}
	result := Apply(map[string]any{"b": true}, patch)
	expected := map[string]any{"a": 2}
	if !reflect.DeepEqual(result, expected) {
		t.Fatalf("unexpected state: %#v", result)
	}
}
