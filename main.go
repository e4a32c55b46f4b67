// Package main is the entry point for the nightscout-delta command
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/mrcode/nightscout-delta/internal/app"
	"github.com/mrcode/nightscout-delta/internal/badge"
	"github.com/mrcode/nightscout-delta/internal/logging"
	"github.com/mrcode/nightscout-delta/internal/models"
)

type options struct {
	configPath   string
	debug        bool
	initConfig   bool
	check        bool
	watch        bool
	value        int
	timeStr      string
	readingsPath string
	badgePath    string
	jsonOutput   bool
}

func main() {
	defaultConfig, err := models.GetConfigPath()
	if err != nil {
		defaultConfig = "settings.yaml"
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfig, "Path to the YAML settings file")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.initConfig, "init", false, "Write a default settings file and exit")
	flag.BoolVar(&opts.check, "check", false, "Test the Nightscout connection and exit")
	flag.BoolVar(&opts.watch, "watch", false, "Poll Nightscout every refresh interval until interrupted")
	flag.IntVar(&opts.value, "value", 0, "Current glucose value in mg/dL (offline mode, defaults to the newest entry)")
	flag.StringVar(&opts.timeStr, "time", "", "Time of -value (RFC3339, defaults to now)")
	flag.StringVar(&opts.readingsPath, "readings", "", "JSON file of Nightscout sgv entries (offline mode)")
	flag.StringVar(&opts.badgePath, "badge", "", "Write a PNG badge to this path (overrides settings)")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.initConfig {
		if err := models.DefaultSettings().Save(opts.configPath); err != nil {
			return fmt.Errorf("writing default settings: %w", err)
		}
		fmt.Printf("Wrote default settings to %s\n", opts.configPath)
		return nil
	}

	settings, err := models.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}
	if opts.badgePath != "" {
		settings.Badge.Path = opts.badgePath
	}

	if err := logging.Init(opts.debug || settings.Log.Debug); err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.Sugar()

	application, err := app.New(settings, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.check {
		status, err := application.CheckConnection(ctx)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("Connected to %s (version %s)\n", status.Name, status.Version)
		return nil
	}

	if opts.watch {
		if opts.readingsPath != "" {
			return errors.New("-watch cannot be combined with -readings")
		}
		log.Infow("watching nightscout", "url", settings.Nightscout.URL, "refresh", settings.Nightscout.Refresh)
		return application.Watch(ctx, func(status *models.DeltaStatus) {
			if err := printStatus(status, opts.jsonOutput); err != nil {
				log.Errorw("printing status failed", "error", err)
			}
		})
	}

	var status *models.DeltaStatus
	if opts.readingsPath != "" {
		status, err = offlineStatus(application, opts)
	} else {
		if opts.value != 0 {
			return errors.New("-value requires -readings")
		}
		status, err = application.FetchStatus(ctx)
	}
	if err != nil {
		return err
	}

	if err := application.WriteBadge(status); err != nil {
		return err
	}
	if err := application.Notify(status); err != nil {
		log.Warnw("sending notification failed", "error", err)
	}

	return printStatus(status, opts.jsonOutput)
}

func offlineStatus(application *app.App, opts options) (*models.DeltaStatus, error) {
	data, err := os.ReadFile(opts.readingsPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", opts.readingsPath, err)
	}

	var entries []models.GlucoseEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", opts.readingsPath, err)
	}

	var current *models.GlucoseEntry
	if opts.value != 0 {
		at := time.Now()
		if opts.timeStr != "" {
			at, err = time.Parse(time.RFC3339, opts.timeStr)
			if err != nil {
				return nil, fmt.Errorf("parsing -time: %w", err)
			}
		}
		current = &models.GlucoseEntry{SGV: opts.value, Date: at.UnixMilli()}
	}

	return application.StatusFromEntries(entries, current)
}

func printStatus(status *models.DeltaStatus, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Printf("%d mg/dL %s  %s mg/dL/5min\n", status.Value, status.Arrow, badge.FormatDelta(status.Delta))
	fmt.Printf("  Time:       %s\n", status.Time.Format(time.RFC3339))
	fmt.Printf("  Direction:  %s\n", status.Direction)
	fmt.Printf("  Method:     %s\n", status.Method)
	fmt.Printf("  Candidates: %d\n", status.Candidates)
	fmt.Printf("  Status:     %s\n", status.Status)
	return nil
}
