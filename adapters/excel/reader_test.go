package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDataReader_CSVWithCovariates(t *testing.T) {
	path := writeTempCSV(t, "site,age,alpha_power,beta_power\n"+
		"boston,31,1.5,0.2\n"+
		"boston,44,1.7,0.3\n"+
		"oslo,28,2.1,0.4\n")

	reader := NewDataReader(path, Options{
		SiteColumn:       "site",
		CovariateColumns: []string{"age"},
	})
	ds, err := reader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha_power", "beta_power"}, ds.Features.Names)
	assert.Equal(t, 3, ds.Features.NumSamples())
	assert.Equal(t, 1.5, ds.Features.Data[0][0])
	assert.Equal(t, 0.4, ds.Features.Data[2][1])

	assert.Equal(t, []string{"boston", "boston", "oslo"}, []string(ds.Sites))

	require.NotNil(t, ds.Covariates)
	assert.Equal(t, []string{"age"}, ds.Covariates.Names)
	assert.Equal(t, 44.0, ds.Covariates.Values[1][0])
}

func TestDataReader_DefaultSiteColumn(t *testing.T) {
	path := writeTempCSV(t, "site,f1\na,1\na,2\nb,3\nb,4\n")

	ds, err := NewDataReader(path, Options{}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ds.Features.Names)
	assert.Len(t, ds.Sites, 4)
	assert.Nil(t, ds.Covariates)
}

func TestDataReader_MissingSiteColumn(t *testing.T) {
	path := writeTempCSV(t, "scanner,f1\na,1\n")

	_, err := NewDataReader(path, Options{SiteColumn: "site"}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site column")
}

func TestDataReader_NonNumericFeature(t *testing.T) {
	path := writeTempCSV(t, "site,f1\na,not_a_number\n")

	_, err := NewDataReader(path, Options{}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestDataReader_EmptySiteLabel(t *testing.T) {
	path := writeTempCSV(t, "site,f1\n,1\n")

	_, err := NewDataReader(path, Options{}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty site label")
}

func TestDataReader_MissingFile(t *testing.T) {
	_, err := NewDataReader("/nonexistent/features.csv", Options{}).Load(context.Background())
	require.Error(t, err)
}

func TestDataReader_HeaderOnly(t *testing.T) {
	path := writeTempCSV(t, "site,f1\n")

	_, err := NewDataReader(path, Options{}).Load(context.Background())
	require.Error(t, err)
}

func TestDataReader_MissingCovariateColumn(t *testing.T) {
	path := writeTempCSV(t, "site,f1\na,1\n")

	_, err := NewDataReader(path, Options{CovariateColumns: []string{"age"}}).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "covariate columns")
}
