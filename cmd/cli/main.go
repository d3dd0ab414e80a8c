// Command cli runs one harmonization over a tabular feature file and
// writes the evaluation reports to disk.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"neuroharmony/adapters/excel"
	"neuroharmony/adapters/postgres"
	"neuroharmony/adapters/report"
	"neuroharmony/app"
	"neuroharmony/internal"
	"neuroharmony/internal/config"
	"neuroharmony/ports"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	inputFile := flag.String("input", appConfig.Data.InputFile, "csv or xlsx feature table, one row per sample")
	siteColumn := flag.String("site-column", appConfig.Data.SiteColumn, "column holding the site label")
	covariates := flag.String("covariates", strings.Join(appConfig.Data.CovariateColumns, ","), "comma-separated covariate columns to preserve")
	outputDir := flag.String("out", appConfig.Data.OutputDir, "directory for the evaluation reports")
	flag.Parse()

	if *inputFile == "" {
		log.Fatal("no input file: pass -input or set INPUT_FILE")
	}

	var covariateColumns []string
	for _, c := range strings.Split(*covariates, ",") {
		if c = strings.TrimSpace(c); c != "" {
			covariateColumns = append(covariateColumns, c)
		}
	}

	logger := internal.NewDefaultLogger()
	ctx := context.Background()

	var source ports.FeatureSource = excel.NewDataReader(*inputFile, excel.Options{
		SiteColumn:       *siteColumn,
		CovariateColumns: covariateColumns,
	})
	dataset, err := source.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *inputFile, err)
	}
	logger.Info("loaded %d samples, %d features from %s",
		dataset.Features.NumSamples(), dataset.Features.NumFeatures(), *inputFile)

	service := app.NewHarmonizationService(logger)
	result, err := service.Run(ctx, app.RunInput{
		Kind:       app.RunVector,
		Features:   dataset.Features,
		Sites:      dataset.Sites,
		Covariates: dataset.Covariates,
		Config:     appConfig.Harmonization,
	})
	if err != nil {
		log.Fatalf("Harmonization failed: %v", err)
	}
	if result.NoOp {
		logger.Warn("run %s was a no-op: %s", result.RunID, result.NoOpReason)
	}

	paths, err := report.NewWriter(*outputDir).WriteAll(result)
	if err != nil {
		log.Fatalf("Failed to write reports: %v", err)
	}
	for name, path := range paths {
		logger.Info("%s: %s", name, path)
	}

	// Persist the run record when a database is configured
	if appConfig.Database.URL != "" {
		if err := saveRun(ctx, appConfig.Database.URL, result); err != nil {
			logger.Error("failed to persist run %s: %v", result.RunID, err)
		}
	}
}

func saveRun(ctx context.Context, url string, result *app.RunResult) error {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	return postgres.NewRunRepository(db).Save(ctx, &ports.RunRecord{
		ID:        result.RunID,
		Kind:      string(result.Kind),
		NoOp:      result.NoOp,
		Config:    result.Config,
		Report:    result.Report,
		CreatedAt: result.FinishedAt,
	})
}
