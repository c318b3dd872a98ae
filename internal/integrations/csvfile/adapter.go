package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"netopt/internal/apperr"
	"netopt/internal/integrations"
	"netopt/internal/model"
)

// File names read from the adapter directory.
const (
	BaselineFile = "baseline.csv"
	DemandFile   = "demand.csv"
	ForecastFile = "forecast.csv"
)

// Fixed headers. Columns are matched exactly; there is no column guessing.
var (
	baselineHeader = []string{"mode", "annual_cost"}
	demandHeader   = []string{"id", "name", "region", "lat", "lng", "demand"}
	forecastHeader = []string{"year", "annual_units"}
)

// Adapter reads scenario inputs from CSV files in one directory.
type Adapter struct {
	Dir string
}

var _ integrations.Source = Adapter{}

func New(dir string) Adapter { return Adapter{Dir: dir} }

func (a Adapter) Name() string { return "csv:" + a.Dir }

// LoadBaseline sums the per-mode annual costs. The breakdown is kept so the
// orchestrator can cross-check it.
func (a Adapter) LoadBaseline(ctx context.Context) (model.VerifiedCost, error) {
	rows, err := a.read(BaselineFile, baselineHeader)
	if err != nil {
		return model.VerifiedCost{}, err
	}
	out := model.VerifiedCost{ByMode: map[string]float64{}, Source: filepath.Join(a.Dir, BaselineFile)}
	total := decimal.Zero
	for i, r := range rows {
		mode := strings.TrimSpace(r[0])
		if mode == "" {
			return model.VerifiedCost{}, rowErr(BaselineFile, i, "mode is empty")
		}
		c, err := decimal.NewFromString(strings.TrimSpace(r[1]))
		if err != nil || c.IsNegative() {
			return model.VerifiedCost{}, rowErr(BaselineFile, i, "annual_cost %q is not a non-negative amount", r[1])
		}
		if _, dup := out.ByMode[mode]; dup {
			return model.VerifiedCost{}, rowErr(BaselineFile, i, "mode %q repeated", mode)
		}
		out.ByMode[mode] = c.InexactFloat64()
		total = total.Add(c)
	}
	out.Total = total.Round(2).InexactFloat64()
	return out, nil
}

// LoadDemand reads destinations. lat/lng may both be empty, in which case
// distances fall back to the region estimator.
func (a Adapter) LoadDemand(ctx context.Context) ([]model.DemandPoint, error) {
	rows, err := a.read(DemandFile, demandHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.DemandPoint, 0, len(rows))
	seen := map[string]bool{}
	for i, r := range rows {
		d := model.DemandPoint{ID: strings.TrimSpace(r[0]), Name: r[1], Region: strings.TrimSpace(r[2])}
		if d.ID == "" || seen[d.ID] {
			return nil, rowErr(DemandFile, i, "id %q is empty or repeated", d.ID)
		}
		seen[d.ID] = true
		lat, lng := strings.TrimSpace(r[3]), strings.TrimSpace(r[4])
		if lat != "" || lng != "" {
			p, err := parsePoint(lat, lng)
			if err != nil {
				return nil, rowErr(DemandFile, i, "%v", err)
			}
			d.Location = &p
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(r[5]), 64)
		if err != nil || v < 0 {
			return nil, rowErr(DemandFile, i, "demand %q is not a non-negative number", r[5])
		}
		d.Demand = v
		out = append(out, d)
	}
	return out, nil
}

func (a Adapter) LoadForecast(ctx context.Context) ([]model.ForecastRow, error) {
	rows, err := a.read(ForecastFile, forecastHeader)
	if err != nil {
		return nil, err
	}
	out := make([]model.ForecastRow, 0, len(rows))
	for i, r := range rows {
		y, err := strconv.Atoi(strings.TrimSpace(r[0]))
		if err != nil {
			return nil, rowErr(ForecastFile, i, "year %q is not an integer", r[0])
		}
		if len(out) > 0 && y <= out[len(out)-1].Year {
			return nil, rowErr(ForecastFile, i, "year %d is not after %d", y, out[len(out)-1].Year)
		}
		u, err := strconv.ParseFloat(strings.TrimSpace(r[1]), 64)
		if err != nil || !(u > 0) {
			return nil, rowErr(ForecastFile, i, "annual_units %q is not a positive number", r[1])
		}
		out = append(out, model.ForecastRow{Year: y, AnnualUnits: u})
	}
	return out, nil
}

// read returns the data rows of name after checking the header.
func (a Adapter) read(name string, header []string) ([][]string, error) {
	path := filepath.Join(a.Dir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.DataSource("%s not found", path)
		}
		return nil, apperr.Wrap(apperr.KindDataSource, err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDataSource, err, "read %s", path)
	}
	if len(records) < 2 {
		return nil, apperr.DataSource("%s must have a header and at least one data row", path)
	}
	got := records[0]
	for i := range header {
		if strings.TrimSpace(strings.ToLower(got[i])) != header[i] {
			return nil, apperr.DataSource("%s header mismatch: expected %v, got %v", path, header, got)
		}
	}
	return records[1:], nil
}

func parsePoint(lat, lng string) (model.GeoPoint, error) {
	la, err1 := strconv.ParseFloat(lat, 64)
	lo, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil || la < -90 || la > 90 || lo < -180 || lo > 180 {
		return model.GeoPoint{}, fmt.Errorf("coordinates (%q, %q) are invalid", lat, lng)
	}
	return model.GeoPoint{Lat: la, Lng: lo}, nil
}

// rowErr reports i as the 1-based file line, counting the header.
func rowErr(file string, i int, format string, args ...any) error {
	return apperr.DataSource("%s line %d: %s", file, i+2, fmt.Sprintf(format, args...))
}
