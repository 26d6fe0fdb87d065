package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"listing-repricer/internal/storage"
)

// Export renders the reduction outcome history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = a.Config.Export.MaxDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -maxDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	days, err := store.CountOutcomesByDay(ctx, from, to)
	if err != nil {
		return err
	}
	if len(days) == 0 {
		a.Logger.Info().Msg("no attempts found for export window")
		return nil
	}

	a.Logger.Info().Int("days", len(days)).Msg("exporting outcome history")

	if opts.CSVPath != "" {
		if err := writeOutcomesCSV(opts.CSVPath, days); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeOutcomesPNG(opts.PNGPath, days); err != nil {
			return err
		}
	}
	return nil
}

func writeOutcomesCSV(path string, days []storage.DailyOutcomes) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"day", "success", "skip", "fail"}); err != nil {
		return err
	}
	for _, day := range days {
		record := []string{
			day.Day.UTC().Format("2006-01-02"),
			strconv.Itoa(day.Succeeded),
			strconv.Itoa(day.Skipped),
			strconv.Itoa(day.Failed),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeOutcomesPNG(path string, days []storage.DailyOutcomes) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(days))
	success := make([]float64, len(days))
	skip := make([]float64, len(days))
	fail := make([]float64, len(days))
	for i, day := range days {
		x[i] = day.Day
		success[i] = float64(day.Succeeded)
		skip[i] = float64(day.Skipped)
		fail[i] = float64(day.Failed)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Attempts per day",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Success",
				XValues: x,
				YValues: success,
			},
			chart.TimeSeries{
				Name:    "Skip",
				XValues: x,
				YValues: skip,
			},
			chart.TimeSeries{
				Name:    "Fail",
				XValues: x,
				YValues: fail,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
