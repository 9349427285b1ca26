// Package profiling reduces value maps to summary statistics for run
// reports.
package profiling

import (
	"math"

	"github.com/montanaflynn/stats"
)

// Distribution summarizes the finite entries of a value map. Valid and
// Failed report the finite/NaN split; when Valid is zero the moment
// fields are zero and carry no information.
type Distribution struct {
	Valid  int     `json:"valid"`
	Failed int     `json:"failed"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// Describe computes the distribution of the finite entries of values.
// NaN entries mark failed positions and are skipped.
func Describe(values []float64) (Distribution, error) {
	data := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			data = append(data, v)
		}
	}
	dist := Distribution{Valid: len(data), Failed: len(values) - len(data)}
	if len(data) == 0 {
		return dist, nil
	}

	var err error
	if dist.Mean, err = stats.Mean(data); err != nil {
		return dist, err
	}
	if dist.Median, err = stats.Median(data); err != nil {
		return dist, err
	}
	if dist.StdDev, err = stats.StandardDeviation(data); err != nil {
		return dist, err
	}
	if dist.Min, err = stats.Min(data); err != nil {
		return dist, err
	}
	if dist.Max, err = stats.Max(data); err != nil {
		return dist, err
	}
	if dist.P95, err = stats.Percentile(data, 95); err != nil {
		return dist, err
	}
	return dist, nil
}
