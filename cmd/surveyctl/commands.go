package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/kirillkom/canopy-survey/internal/core/domain"
	"github.com/kirillkom/canopy-survey/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/canopy-survey/internal/orchestrator"
)

type command struct {
	summary string
	run     func(ctx context.Context, s *session, args []string, stdout io.Writer) error
}

var commandOrder = []string{"list", "upload", "detect", "watch", "show", "delete", "export"}

var commands = map[string]command{
	"list":   {summary: "list the surveys of a field", run: runList},
	"upload": {summary: "upload a GeoTIFF survey image", run: runUpload},
	"detect": {summary: "request tree detection for a survey", run: runDetect},
	"watch":  {summary: "wait for a processing survey and print its results", run: runWatch},
	"show":   {summary: "print a survey and, when completed, its results", run: runShow},
	"delete": {summary: "delete a survey and its results", run: runDelete},
	"export": {summary: "write the results of a completed survey to an .xlsx workbook", run: runExport},
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "parse flags", fmt.Errorf("-%s is required", name))
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "parse flags", err)
	}
	return nil
}

func runList(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("list")
	field := fs.String("field", "", "field id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("field", *field); err != nil {
		return err
	}
	if err := s.orch.SetField(ctx, *field); err != nil {
		return err
	}
	s.drain()
	printSurveys(stdout, s.orch.Snapshot().Surveys)
	return nil
}

func runUpload(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("upload")
	field := fs.String("field", "", "field id")
	path := fs.String("file", "", "GeoTIFF image to upload")
	captureDate := fs.String("capture-date", "", "capture date, YYYY-MM-DD")
	source := fs.String("source", "", "image source, for example drone or satellite")
	detect := fs.Bool("detect", false, "request detection after the upload")
	watch := fs.Bool("watch", false, "with -detect, wait for the results")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("field", *field); err != nil {
		return err
	}
	if err := requireFlag("file", *path); err != nil {
		return err
	}

	file, err := os.Open(*path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	survey, err := s.orch.Upload(ctx, domain.UploadCandidate{
		FieldID:     *field,
		Filename:    filepath.Base(*path),
		SizeBytes:   info.Size(),
		CaptureDate: *captureDate,
		Source:      *source,
	}, file)
	if err != nil {
		return err
	}
	s.drain()
	fmt.Fprintf(stdout, "uploaded %s (%s)\n", survey.ID, survey.Status)

	if !*detect {
		return nil
	}
	return detectAndMaybeWatch(ctx, s, survey.ID, *watch, stdout)
}

func runDetect(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("detect")
	id := fs.String("id", "", "survey id")
	watch := fs.Bool("watch", false, "wait for the results")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	return detectAndMaybeWatch(ctx, s, *id, *watch, stdout)
}

func detectAndMaybeWatch(ctx context.Context, s *session, id string, watch bool, stdout io.Writer) error {
	if err := s.orch.TriggerDetection(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "detection requested for %s\n", id)
	if !watch {
		return nil
	}
	view, err := s.await(ctx, id)
	if err != nil {
		return err
	}
	printView(stdout, view)
	return nil
}

func runWatch(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("watch")
	id := fs.String("id", "", "survey id")
	metricsAddr := fs.String("metrics-addr", "", "serve poll metrics on this address while watching")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	stopMetrics := s.serveMetrics(*metricsAddr)
	defer stopMetrics()

	view, err := selectAndAwait(ctx, s, *id)
	if err != nil {
		return err
	}
	printView(stdout, view)
	return nil
}

func runShow(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("show")
	id := fs.String("id", "", "survey id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	survey, err := s.client.Get(ctx, *id)
	if err != nil {
		return err
	}
	survey.Normalize()
	// show reports the current state once; only completed surveys load results.
	if survey.Status != domain.SurveyCompleted {
		printSurvey(stdout, *survey)
		return nil
	}
	view, err := selectAndAwait(ctx, s, *id)
	if err != nil {
		return err
	}
	printView(stdout, view)
	return nil
}

func runDelete(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "survey id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	if err := s.orch.Delete(ctx, *id); err != nil {
		return err
	}
	s.drain()
	fmt.Fprintf(stdout, "deleted %s\n", *id)
	return nil
}

func runExport(ctx context.Context, s *session, args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	id := fs.String("id", "", "survey id")
	out := fs.String("out", "", "output .xlsx path")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("id", *id); err != nil {
		return err
	}
	if *out == "" {
		*out = *id + ".xlsx"
	}

	survey, err := s.client.Get(ctx, *id)
	if err != nil {
		return err
	}
	survey.Normalize()
	results, err := orchestrator.NewResultAggregator(s.client, s.logger, s.metrics).Load(ctx, *survey)
	if err != nil {
		return err
	}

	file, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := xlsx.Write(file, *survey, results.Summary, results.Trees); err != nil {
		_ = file.Close()
		_ = os.Remove(*out)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported %d trees to %s\n", len(results.Trees), *out)
	return nil
}

func selectAndAwait(ctx context.Context, s *session, id string) (orchestrator.View, error) {
	if err := s.orch.Select(ctx, id); err != nil {
		return orchestrator.View{}, err
	}
	return s.await(ctx, id)
}

func printSurveys(w io.Writer, surveys []domain.Survey) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tCAPTURED\tSTATUS\tTREES\tCREATED")
	for _, survey := range surveys {
		trees := "-"
		if survey.TreeCount != nil {
			trees = fmt.Sprint(*survey.TreeCount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			survey.ID,
			survey.Filename,
			dash(survey.CaptureDate),
			survey.Status,
			trees,
			survey.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = tw.Flush()
}

func printSurvey(w io.Writer, survey domain.Survey) {
	fmt.Fprintf(w, "survey   %s\n", survey.ID)
	fmt.Fprintf(w, "field    %s\n", survey.FieldID)
	fmt.Fprintf(w, "file     %s\n", survey.Filename)
	fmt.Fprintf(w, "status   %s\n", survey.Status)
	if survey.ErrorMessage != "" {
		fmt.Fprintf(w, "error    %s\n", survey.ErrorMessage)
	}
}

func printView(w io.Writer, view orchestrator.View) {
	if view.Selected == nil {
		return
	}
	printSurvey(w, *view.Selected)
	if view.Results == nil {
		return
	}
	summary := view.Results.Summary
	fmt.Fprintf(w, "trees    %d\n", summary.TotalTrees)
	if summary.TreesPerAcre != nil {
		fmt.Fprintf(w, "density  %.1f trees/acre\n", *summary.TreesPerAcre)
	}
	if summary.AverageNDVI != nil {
		fmt.Fprintf(w, "ndvi     %.3f\n", *summary.AverageNDVI)
	}
	if summary.CanopyCoveragePercent != nil {
		fmt.Fprintf(w, "canopy   %.1f%%\n", *summary.CanopyCoveragePercent)
	}
	for _, category := range domain.HealthCategories {
		fmt.Fprintf(w, "  %-9s %d\n", category, summary.Categories[category])
	}
	if summary.Inconsistent {
		fmt.Fprintln(w, "note     category counts do not add up to the total")
	}
	if view.Results.DroppedTrees > 0 {
		fmt.Fprintf(w, "note     %d trees without a position were skipped\n", view.Results.DroppedTrees)
	}
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
