package maintenance

import "testing"

func TestValidPartitionID(t *testing.T) {
	valid := []string{"20240301", "19991231"}
	invalid := []string{"2024030", "202403011", "tuple()", "all", "2024-03-01", "20240301'; DROP TABLE x"}

	for _, id := range valid {
		if !validPartitionID.MatchString(id) {
			t.Errorf("%q should be a valid partition id", id)
		}
	}
	for _, id := range invalid {
		if validPartitionID.MatchString(id) {
			t.Errorf("%q should be rejected", id)
		}
	}
}

func TestCutoffComparison(t *testing.T) {
	// Partition ids compare correctly as strings because the format is
	// fixed-width year-month-day.
	if !("20240101" < "20240301") {
		t.Error("older partition must sort below cutoff")
	}
	if "20240401" < "20240301" {
		t.Error("newer partition must not sort below cutoff")
	}
}
