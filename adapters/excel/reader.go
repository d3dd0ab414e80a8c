// Package excel reads wide feature tables (one row per sample) from xlsx
// and csv files into the aligned dataset the harmonization core consumes.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"neuroharmony/domain/harmonize"
	apperrors "neuroharmony/internal/errors"
)

// Options configures column interpretation. Every column that is neither
// the site column nor a covariate column is treated as a feature.
type Options struct {
	SiteColumn       string
	CovariateColumns []string
	Sheet            string // xlsx only; defaults to Sheet1
}

// DataReader handles reading Excel and CSV feature tables
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	opts     Options
}

// NewDataReader creates a reader that dispatches on file extension
func NewDataReader(filePath string, opts Options) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if opts.SiteColumn == "" {
		opts.SiteColumn = "site"
	}
	if opts.Sheet == "" {
		opts.Sheet = "Sheet1"
	}
	return &DataReader{filePath: filePath, fileType: fileType, opts: opts}
}

// Load reads the table into an aligned dataset
func (r *DataReader) Load(ctx context.Context) (*harmonize.Dataset, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, apperrors.IngestError(fmt.Sprintf("input file not found: %s", r.filePath), err)
	}

	var rows [][]string
	var err error
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	case "xlsx":
		rows, err = r.readExcel()
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unsupported file type: %s", r.fileType))
	}
	if err != nil {
		return nil, err
	}
	return r.parse(rows)
}

func (r *DataReader) readCSV() ([][]string, error) {
	f, err := os.Open(r.filePath)
	if err != nil {
		return nil, apperrors.IngestError("failed to open csv file", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, apperrors.IngestError("failed to parse csv file", err)
	}
	return rows, nil
}

func (r *DataReader) readExcel() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, apperrors.IngestError("failed to open Excel file", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.opts.Sheet)
	if err != nil {
		return nil, apperrors.IngestError(fmt.Sprintf("failed to read sheet %s", r.opts.Sheet), err)
	}
	return rows, nil
}

// parse splits the wide table into feature, site, and covariate blocks
func (r *DataReader) parse(rows [][]string) (*harmonize.Dataset, error) {
	if len(rows) < 2 {
		return nil, apperrors.IngestError("table needs a header row and at least one sample", nil)
	}

	header := rows[0]
	siteCol := -1
	covCols := make(map[int]int, len(r.opts.CovariateColumns)) // column -> covariate order
	for i, name := range header {
		if name == r.opts.SiteColumn {
			siteCol = i
			continue
		}
		for q, cov := range r.opts.CovariateColumns {
			if name == cov {
				covCols[i] = q
			}
		}
	}
	if siteCol < 0 {
		return nil, apperrors.IngestError(fmt.Sprintf("site column %q not found", r.opts.SiteColumn), nil)
	}
	if len(covCols) != len(r.opts.CovariateColumns) {
		return nil, apperrors.IngestError("one or more covariate columns not found", nil)
	}

	var featureNames []string
	featureCols := make([]int, 0, len(header))
	for i, name := range header {
		if i == siteCol {
			continue
		}
		if _, isCov := covCols[i]; isCov {
			continue
		}
		featureNames = append(featureNames, name)
		featureCols = append(featureCols, i)
	}

	n := len(rows) - 1
	data := make([][]float64, 0, n)
	sites := make(harmonize.SiteLabels, 0, n)
	covValues := make([][]float64, 0, n)

	for rowIdx, row := range rows[1:] {
		if len(row) < len(header) {
			// Trailing empty cells are dropped by both readers
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		}

		featRow := make([]float64, len(featureCols))
		for j, col := range featureCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				return nil, apperrors.IngestError(
					fmt.Sprintf("row %d, feature %q: not numeric: %q", rowIdx+2, featureNames[j], row[col]), err)
			}
			featRow[j] = v
		}
		data = append(data, featRow)

		site := strings.TrimSpace(row[siteCol])
		if site == "" {
			return nil, apperrors.IngestError(fmt.Sprintf("row %d: empty site label", rowIdx+2), nil)
		}
		sites = append(sites, site)

		if len(r.opts.CovariateColumns) > 0 {
			covRow := make([]float64, len(r.opts.CovariateColumns))
			for col, q := range covCols {
				v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
				if err != nil {
					return nil, apperrors.IngestError(
						fmt.Sprintf("row %d, covariate %q: not numeric: %q", rowIdx+2, header[col], row[col]), err)
				}
				covRow[q] = v
			}
			covValues = append(covValues, covRow)
		}
	}

	features, err := harmonize.NewFeatureMatrix(featureNames, data)
	if err != nil {
		return nil, err
	}

	var covariates *harmonize.Covariates
	if len(r.opts.CovariateColumns) > 0 {
		covariates = &harmonize.Covariates{
			Names:  append([]string(nil), r.opts.CovariateColumns...),
			Values: covValues,
		}
	}

	ds := &harmonize.Dataset{Features: features, Sites: sites, Covariates: covariates}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
