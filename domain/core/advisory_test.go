package core

import (
	"testing"
)

// TestAdvisoryLogDeduplication tests that repeated findings are reported once
func TestAdvisoryLogDeduplication(t *testing.T) {
	log := NewAdvisoryLog()

	// Simulate the same finding surfacing at many grid positions
	for i := 0; i < 500; i++ {
		log.Addf(AdvIllConditioned, "condition number %.0f exceeds threshold %.0f", 2500.0, 1000.0)
	}
	log.Addf(AdvInestimableContrast, "analysis 1 contrast column 1 is not estimable in session 3")

	if log.Len() != 2 {
		t.Fatalf("Expected 2 distinct advisories, got %d", log.Len())
	}

	list := log.List()
	if list[0].Code != AdvIllConditioned {
		t.Errorf("Expected first-seen ordering, got %s first", list[0].Code)
	}
	if list[1].Code != AdvInestimableContrast {
		t.Errorf("Expected inestimable advisory second, got %s", list[1].Code)
	}
}

// TestAdvisoryLogMerge tests merging advisories from a sub-computation
func TestAdvisoryLogMerge(t *testing.T) {
	log := NewAdvisoryLog()
	log.Addf(AdvContrastRankMismatch, "rank 2 vs rank 1")

	other := []Advisory{
		NewAdvisory(AdvContrastRankMismatch, "rank 2 vs rank 1"),
		NewAdvisory(AdvCrossRankDeficient, "cross operator rank 1 below contrast rank 2"),
	}
	log.Merge(other)

	if log.Len() != 2 {
		t.Errorf("Expected merge to deduplicate, got %d advisories", log.Len())
	}
}

// TestAdvisoryString tests the display format
func TestAdvisoryString(t *testing.T) {
	a := NewAdvisory(AdvVarianceNotPreserved, "normalized variance 0.90 deviates from 1")
	want := "[cross_operator_variance] normalized variance 0.90 deviates from 1"
	if a.String() != want {
		t.Errorf("Expected %q, got %q", want, a.String())
	}
}

// TestAdvisoryLogListCopies tests that List returns an independent slice
func TestAdvisoryLogListCopies(t *testing.T) {
	log := NewAdvisoryLog()
	log.Addf(AdvIllConditioned, "condition number high")

	list := log.List()
	list[0].Message = "mutated"

	if log.List()[0].Message == "mutated" {
		t.Error("List must return a copy, not the internal slice")
	}
}
