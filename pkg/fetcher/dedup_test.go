package fetcher

import (
	"testing"
)

func TestDedupSort_RemovesDuplicates(t *testing.T) {
	items := []Item{
		testItem(5, 0, "a"),
		testItem(3, 0, "b"),
		testItem(5, 0, "a"), // duplicate key
		testItem(7, 0, "c"),
		testItem(3, 0, "b"), // duplicate key
	}

	out, duplicates, dropped := dedupSort(items, testKey, testOrder, nil)

	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if duplicates != 2 {
		t.Errorf("duplicates = %d, want 2", duplicates)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
}

func TestDedupSort_FirstSeenWins(t *testing.T) {
	first := testItem(5, 0, "a")
	first["tag"] = "first"
	second := testItem(5, 0, "a")
	second["tag"] = "second"

	out, _, _ := dedupSort([]Item{first, second}, testKey, testOrder, nil)

	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0]["tag"] != "first" {
		t.Errorf("kept item tag = %v, want first", out[0]["tag"])
	}
}

func TestDedupSort_DropsKeylessItems(t *testing.T) {
	items := []Item{
		testItem(1, 0, "a"),
		{"blockNumber": int64(2), "index": int64(0)}, // no hash field
		testItem(3, 0, "b"),
	}

	out, _, dropped := dedupSort(items, testKey, testOrder, nil)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestDedupSort_SortsAscending(t *testing.T) {
	items := []Item{
		testItem(9, 0, "d"),
		testItem(1, 1, "b"),
		testItem(1, 0, "a"),
		testItem(4, 0, "c"),
	}

	out, _, _ := dedupSort(items, testKey, testOrder, nil)

	wantHashes := []string{"a", "b", "c", "d"}
	for i, want := range wantHashes {
		if out[i]["hash"] != want {
			t.Errorf("out[%d] = %v, want %s", i, out[i]["hash"], want)
		}
	}
}

func TestDedupSort_StableForEqualKeys(t *testing.T) {
	// Same block and index: relative input order must be preserved.
	items := []Item{
		testItem(5, 0, "x"),
		testItem(5, 0, "y"),
		testItem(5, 0, "z"),
		testItem(2, 0, "w"),
	}

	out, _, _ := dedupSort(items, testKey, testOrder, nil)

	wantHashes := []string{"w", "x", "y", "z"}
	for i, want := range wantHashes {
		if out[i]["hash"] != want {
			t.Errorf("out[%d] = %v, want %s", i, out[i]["hash"], want)
		}
	}
}

func TestDedupSort_NilKeyKeepsEverything(t *testing.T) {
	items := []Item{
		testItem(2, 0, "a"),
		testItem(1, 0, "a"),
	}

	out, duplicates, _ := dedupSort(items, nil, testOrder, nil)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (no dedup without key func)", len(out))
	}
	if duplicates != 0 {
		t.Errorf("duplicates = %d, want 0", duplicates)
	}
}

func TestDedupSort_OrderPanicKeepsInsertionOrder(t *testing.T) {
	panicOrder := func(it Item) (int64, int64) {
		if it["hash"] == "bad" {
			panic("malformed item")
		}
		return testOrder(it)
	}

	items := []Item{
		testItem(9, 0, "z"),
		testItem(1, 0, "bad"),
		testItem(4, 0, "m"),
	}

	out, _, _ := dedupSort(items, testKey, panicOrder, nil)

	// Sort failed: insertion order kept, nothing raised, nothing lost.
	wantHashes := []string{"z", "bad", "m"}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, want := range wantHashes {
		if out[i]["hash"] != want {
			t.Errorf("out[%d] = %v, want %s (insertion order)", i, out[i]["hash"], want)
		}
	}
}

func TestDedupSort_PanickingKeyDropsItem(t *testing.T) {
	panicKey := func(it Item) (string, bool) {
		if it["hash"] == "bad" {
			panic("malformed item")
		}
		return testKey(it)
	}

	items := []Item{
		testItem(1, 0, "a"),
		testItem(2, 0, "bad"),
	}

	out, _, dropped := dedupSort(items, panicKey, testOrder, nil)

	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestDedupSort_Empty(t *testing.T) {
	out, duplicates, dropped := dedupSort(nil, testKey, testOrder, nil)
	if len(out) != 0 || duplicates != 0 || dropped != 0 {
		t.Errorf("dedupSort(nil) = (%d items, %d dup, %d dropped), want all zero",
			len(out), duplicates, dropped)
	}
}
