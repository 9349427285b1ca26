package profiling

import (
	"math"
	"testing"
)

func TestDescribe(t *testing.T) {
	nan := math.NaN()
	dist, err := Describe([]float64{3, nan, 1, 2, nan})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if dist.Valid != 3 || dist.Failed != 2 {
		t.Errorf("Valid/Failed = %d/%d, want 3/2", dist.Valid, dist.Failed)
	}
	if dist.Mean != 2 || dist.Median != 2 {
		t.Errorf("Mean/Median = %g/%g, want 2/2", dist.Mean, dist.Median)
	}
	if dist.Min != 1 || dist.Max != 3 {
		t.Errorf("Min/Max = %g/%g, want 1/3", dist.Min, dist.Max)
	}
	if dist.P95 < dist.Median || dist.P95 > dist.Max {
		t.Errorf("P95 = %g outside [median, max]", dist.P95)
	}
	want := math.Sqrt(2.0 / 3.0)
	if math.Abs(dist.StdDev-want) > 1e-12 {
		t.Errorf("StdDev = %g, want %g", dist.StdDev, want)
	}
}

func TestDescribeSingleValue(t *testing.T) {
	dist, err := Describe([]float64{0.125})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if dist.Valid != 1 || dist.Failed != 0 {
		t.Errorf("Valid/Failed = %d/%d, want 1/0", dist.Valid, dist.Failed)
	}
	if dist.Mean != 0.125 || dist.Median != 0.125 || dist.Min != 0.125 || dist.Max != 0.125 || dist.P95 != 0.125 {
		t.Errorf("Moments of a single value should all equal it: %+v", dist)
	}
	if dist.StdDev != 0 {
		t.Errorf("StdDev = %g, want 0", dist.StdDev)
	}
}

func TestDescribeAllNaN(t *testing.T) {
	dist, err := Describe([]float64{math.NaN(), math.NaN()})
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if dist.Valid != 0 || dist.Failed != 2 {
		t.Errorf("Valid/Failed = %d/%d, want 0/2", dist.Valid, dist.Failed)
	}
	if dist.Mean != 0 || dist.Max != 0 || dist.StdDev != 0 {
		t.Errorf("Moments should stay zero with no data: %+v", dist)
	}
}

func TestDescribeEmpty(t *testing.T) {
	dist, err := Describe(nil)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if dist.Valid != 0 || dist.Failed != 0 {
		t.Errorf("Valid/Failed = %d/%d, want 0/0", dist.Valid, dist.Failed)
	}
}
