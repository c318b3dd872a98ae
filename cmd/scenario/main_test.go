package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"netopt/internal/apperr"
	"netopt/internal/config"
	"netopt/internal/integrations/csvfile"
)

// Baseline and forecast come from the data directory.
const partialScenario = `
name: three-dc
facilities:
  - {id: A, capacity: 100, fixedCost: 1000}
  - {id: B, capacity: 100, fixedCost: 1000}
  - {id: C, capacity: 100, fixedCost: 1000}
destinations:
  - {id: X, demand: 80}
  - {id: Y, demand: 80}
costMatrix:
  unit:
    A: {X: 1, Y: 1}
    B: {X: 1, Y: 1}
    C: {X: 1, Y: 1}
skus:
  - {id: S1, annualVolume: 1200000, unitsPerCase: 10, casesPerPallet: 40}
optimization:
  constraints:
    maxFacilities: 2
    mandatoryFacilities: [A]
`

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestRunWithDataDir(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, csvfile.BaselineFile, "mode,annual_cost\nparcel,1000\nltl,2000\n")
	write(t, dir, csvfile.ForecastFile, "year,annual_units\n2025,1000000\n2026,1200000\n")
	good := write(t, dir, "good.yaml", partialScenario)
	broken := write(t, dir, "broken.yaml", "facilities: [oops")
	missing := filepath.Join(dir, "missing.yaml")

	cfg, err := config.Default()
	require.NoError(t, err)
	outs, failed := run(context.Background(), cfg, zap.NewNop(), []string{good, broken, missing}, dir, 2)
	require.Len(t, outs, 3)
	assert.True(t, failed)

	require.NotNil(t, outs[0].Result, outs[0].Error)
	assert.Equal(t, []string{"A", "B"}, outs[0].Result.Transport.OpenFacilities)
	assert.InDelta(t, 840, outs[0].Result.Baseline.Savings, 1e-6)
	require.Len(t, outs[0].Result.Years, 2)

	assert.Nil(t, outs[1].Result)
	assert.Equal(t, apperr.KindInputValidation, outs[1].ErrorKind)
	assert.NotEmpty(t, outs[2].Error)
}

func TestRunWithoutBaselineFails(t *testing.T) {
	dir := t.TempDir()
	good := write(t, dir, "good.yaml", partialScenario)
	cfg, err := config.Default()
	require.NoError(t, err)
	outs, failed := run(context.Background(), cfg, zap.NewNop(), []string{good}, "", 1)
	assert.True(t, failed)
	assert.Equal(t, apperr.KindDataSource, outs[0].ErrorKind)
}
