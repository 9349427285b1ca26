// Package tabular loads session matrices and masks from CSV or XLSX
// files and writes result maps back out as CSV. Every matrix file
// carries a single header row; the extension decides the format.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/glm"
	"github.com/allefeld/cvcrossmanova/searchlight"
)

// SessionFile names one session's data and design files plus its
// residual degrees of freedom. DF zero means derive from the design
// rank at fit time.
type SessionFile struct {
	Data   string
	Design string
	DF     float64
}

// SessionSource loads sessions from per-session matrix file pairs.
type SessionSource struct {
	files []SessionFile
}

// NewSessionSource validates the file list.
func NewSessionSource(files []SessionFile) (*SessionSource, error) {
	if len(files) == 0 {
		return nil, core.NewParameterError("sessions", "requires at least one data/design file pair")
	}
	for k, f := range files {
		if f.Data == "" || f.Design == "" {
			return nil, core.NewParameterError("sessions",
				fmt.Sprintf("session %d needs both a data and a design path", k))
		}
	}
	return &SessionSource{files: files}, nil
}

// LoadSessions reads every session's matrix pair. The provenance string
// fingerprints each file's canonical path, size and modification time,
// so a sweep checkpoint is refused once the input files change.
func (s *SessionSource) LoadSessions(ctx context.Context) ([]*glm.Session, string, error) {
	log.Printf("[Tabular] Loading %d sessions", len(s.files))

	var fp strings.Builder
	sessions := make([]*glm.Session, len(s.files))
	for k, f := range s.files {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		y, err := LoadMatrix(f.Data)
		if err != nil {
			return nil, "", fmt.Errorf("session %d data: %w", k, err)
		}
		x, err := LoadMatrix(f.Design)
		if err != nil {
			return nil, "", fmt.Errorf("session %d design: %w", k, err)
		}
		sess, err := glm.NewSession(y, x, f.DF)
		if err != nil {
			return nil, "", fmt.Errorf("session %d: %w", k, err)
		}
		sessions[k] = sess

		if err := fingerprintFile(&fp, f.Data); err != nil {
			return nil, "", err
		}
		if err := fingerprintFile(&fp, f.Design); err != nil {
			return nil, "", err
		}
		fmt.Fprintf(&fp, "df=%s\n", strconv.FormatFloat(f.DF, 'g', -1, 64))
	}

	_, p := sessions[0].Y.Dims()
	log.Printf("[Tabular] Loaded %d sessions (%d variables)", len(sessions), p)
	return sessions, core.NewProvenanceHash([]byte(fp.String())).String(), nil
}

func fingerprintFile(fp *strings.Builder, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	fmt.Fprintf(fp, "%s|%d|%d\n", abs, info.Size(), info.ModTime().UnixNano())
	return nil
}

// LoadMatrix reads one numeric matrix from a CSV or XLSX file. The
// first row is a header and is discarded; every remaining cell must
// parse as a number and every row must have the same width.
func LoadMatrix(path string) (*mat.Dense, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s must have a header row and at least one data row", path)
	}
	cols := len(rows[0])
	if cols == 0 {
		return nil, fmt.Errorf("%s has an empty header row", path)
	}

	data := rows[1:]
	m := mat.NewDense(len(data), cols, nil)
	for i, row := range data {
		if len(row) != cols {
			return nil, fmt.Errorf("%s row %d has %d cells, want %d", path, i+2, len(row), cols)
		}
		for j, cell := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %d: %q is not numeric", path, i+2, j+1, cell)
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}

// LoadMask reads in-mask grid positions, one x,y,z row per variable
// below the header. Row order is variable order: row k locates
// variable k.
func LoadMask(path string, dims [3]int) (*searchlight.Mask, error) {
	rows, err := loadRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s must have a header row and at least one position row", path)
	}

	positions := make([][3]int, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != 3 {
			return nil, fmt.Errorf("%s row %d has %d cells, want x,y,z", path, i+2, len(row))
		}
		var p [3]int
		for j, cell := range row {
			v, err := strconv.Atoi(strings.TrimSpace(cell))
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %d: %q is not an integer coordinate", path, i+2, j+1, cell)
			}
			p[j] = v
		}
		positions = append(positions, p)
	}
	return searchlight.NewMask(dims, positions)
}

// loadRows dispatches on the file extension.
func loadRows(path string) ([][]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSVRows(path)
	case ".xlsx":
		return readSheetRows(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q, want .csv or .xlsx", filepath.Ext(path))
	}
}

func readCSVRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file %s: %w", path, err)
	}
	return rows, nil
}

func readSheetRows(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("failed to read Sheet1 of %s: %w", path, err)
	}
	return rows, nil
}
