package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"cardexport/internal/app"
	"cardexport/internal/config"
	"cardexport/internal/export"
	"cardexport/internal/logging"
	"cardexport/internal/records"
	"cardexport/internal/roster"
)

type options struct {
	roster    string
	institute string
	event     string
	template  string
	format    string
	out       string
	name      string
}

func main() {
	var o options
	flag.StringVar(&o.roster, "roster", "", "roster spreadsheet (.xlsx or .csv)")
	flag.StringVar(&o.institute, "institute", "", "institute JSON file")
	flag.StringVar(&o.event, "event", "", "admit-card event JSON file (admit template only)")
	flag.StringVar(&o.template, "template", "classic", "card template id")
	flag.StringVar(&o.format, "format", "pdf", "output format: pdf or zip")
	flag.StringVar(&o.out, "out", ".", "output directory")
	flag.StringVar(&o.name, "name", "", "output name (default derived from class/section or event)")
	flag.Parse()

	if o.roster == "" || o.institute == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.Must(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := run(ctx, cfg, log, o)
	if err != nil {
		fmt.Fprintln(os.Stderr)
		var rerr *export.RecordError
		if errors.As(err, &rerr) {
			fmt.Fprintf(os.Stderr, "failed at record %d (%s): %v\n", rerr.Index+1, rerr.Name, rerr.Err)
		} else {
			fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("\nwrote %s\n", path)
}

func run(ctx context.Context, cfg config.App, log *zap.Logger, o options) (string, error) {
	format, err := export.ParseFormat(o.format)
	if err != nil {
		return "", err
	}

	f, err := os.Open(o.roster)
	if err != nil {
		return "", err
	}
	imported, err := roster.Import(f, o.roster)
	f.Close()
	if err != nil {
		return "", err
	}
	for _, s := range imported.Skipped {
		log.Warn("skipped roster row", zap.Int("row", s.Row), zap.String("reason", s.Reason))
	}

	var inst records.Institute
	if err := readJSON(o.institute, &inst); err != nil {
		return "", fmt.Errorf("institute: %w", err)
	}
	var event *records.AdmitEvent
	if o.event != "" {
		event = &records.AdmitEvent{}
		if err := readJSON(o.event, event); err != nil {
			return "", fmt.Errorf("event: %w", err)
		}
	}
	if err := records.ValidateBatch(imported.People, inst); err != nil {
		return "", err
	}

	pipeline := app.NewPipeline(cfg, log, nil)
	defer pipeline.Close()

	art, err := pipeline.Orchestrator.Export(ctx, export.Job{
		ID:         "cli",
		Records:    imported.People,
		Institute:  inst,
		Event:      event,
		Template:   o.template,
		Format:     format,
		OutputName: o.name,
	}, func(p export.Progress) {
		fmt.Printf("\r%d/%d", p.Current, p.Total)
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(o.out, art.Name)
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
