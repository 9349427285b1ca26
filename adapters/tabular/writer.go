package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/allefeld/cvcrossmanova/domain/sweep"
	"github.com/allefeld/cvcrossmanova/searchlight"
)

// WriteMaps writes sweep results as long-format CSV: one row per mask
// position, analysis and permutation, with the neighborhood size
// repeated per row. Values are written losslessly; failed positions
// appear as NaN.
func WriteMaps(path string, mask *searchlight.Mask, maps *sweep.Maps) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"x", "y", "z", "analysis", "perm", "value", "count"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, 7)
	for v := 0; v < mask.NumVars(); v++ {
		p := mask.Position(v)
		record[0] = strconv.Itoa(p[0])
		record[1] = strconv.Itoa(p[1])
		record[2] = strconv.Itoa(p[2])
		record[6] = strconv.Itoa(maps.Counts[v])
		for a := range maps.Values {
			record[3] = strconv.Itoa(a)
			for perm := range maps.Values[a] {
				record[4] = strconv.Itoa(perm)
				record[5] = strconv.FormatFloat(maps.Values[a][perm][v], 'g', -1, 64)
				if err := w.Write(record); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}
