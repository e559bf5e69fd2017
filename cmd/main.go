package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"icalfix/internal/caldav"
	"icalfix/internal/fixup"
	"icalfix/internal/scrubber"
	"icalfix/internal/server"
	"icalfix/internal/vcal"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "icalfix",
		Usage: "Repair broken icalendar data and assemble calendar documents.",
		Commands: []*cli.Command{
			fixCommand(),
			newCommand(),
			scrubCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func fixCommand() *cli.Command {
	return &cli.Command{
		Name:      "fix",
		Usage:     "Normalize icalendar files (or stdin) and print the result.",
		ArgsUsage: "[file ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "in-place", Usage: "Rewrite each input file instead of printing."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))
			normalizer := fixup.New(logger)

			if c.NArg() == 0 {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				fmt.Print(normalizer.FixBytes(raw))
				return nil
			}

			for _, name := range c.Args().Slice() {
				raw, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", name, err)
				}
				fixed := normalizer.FixBytes(raw)
				if c.Bool("in-place") {
					if err := os.WriteFile(name, []byte(fixed), 0644); err != nil {
						return fmt.Errorf("failed to rewrite %s: %w", name, err)
					}
					logger.Info("Rewrote file.", "file", name)
				} else {
					fmt.Print(fixed)
				}
			}
			return nil
		},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Assemble a calendar document from properties and print it.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "Component type (VEVENT, VTODO, VJOURNAL, ...)."},
			&cli.StringFlag{Name: "language", Usage: "Language tag embedded in the PRODID."},
			&cli.StringFlag{Name: "fragment-file", Usage: "File with an icalendar fragment to build on."},
			&cli.StringFlag{Name: "uid", Usage: "Explicit UID instead of a generated one."},
			&cli.StringFlag{Name: "summary"},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "location"},
			&cli.StringFlag{Name: "status"},
			&cli.StringFlag{Name: "dtstart", Usage: "Start timestamp (RFC 3339 or basic icalendar form)."},
			&cli.StringFlag{Name: "due", Usage: "Due timestamp (RFC 3339 or basic icalendar form)."},
			&cli.StringSliceFlag{Name: "parent", Usage: "UID of a parent item. May be repeated."},
			&cli.StringSliceFlag{Name: "child", Usage: "UID of a child item. May be repeated."},
		},
		Action: func(c *cli.Context) error {
			props := vcal.Props{}
			for _, name := range []string{"uid", "summary", "description", "location", "status"} {
				if v := c.String(name); v != "" {
					props[name] = v
				}
			}
			for _, name := range []string{"dtstart", "due"} {
				if v := c.String(name); v != "" {
					t, err := parseTimestamp(v)
					if err != nil {
						return fmt.Errorf("invalid --%s: %w", name, err)
					}
					props[name] = t
				}
			}
			if v := c.StringSlice("parent"); len(v) > 0 {
				props["parent"] = v
			}
			if v := c.StringSlice("child"); len(v) > 0 {
				props["child"] = v
			}

			var fragment string
			if name := c.String("fragment-file"); name != "" {
				raw, err := os.ReadFile(name)
				if err != nil {
					return fmt.Errorf("failed to read fragment file: %w", err)
				}
				fragment = string(raw)
			}

			out, err := vcal.Create(fragment, c.String("type"), c.String("language"), props)
			if err != nil {
				return fmt.Errorf("failed to assemble calendar document: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func scrubCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrub",
		Usage: "Fetch every object of a CalDAV calendar and repair known breakages.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar", Usage: "Calendar display name. Defaults to the first one found."},
			&cli.BoolFlag{Name: "write", Usage: "Store repaired objects back on the server."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			endpoint := os.Getenv("CALDAV_URL")
			if endpoint == "" {
				return fmt.Errorf("CALDAV_URL environment variable not set")
			}

			client, err := caldav.NewClient(logger, endpoint,
				os.Getenv("CALDAV_USERNAME"), os.Getenv("CALDAV_PASSWORD"),
				c.String("calendar"))
			if err != nil {
				return fmt.Errorf("failed to create caldav client: %w", err)
			}

			dryRun := !c.Bool("write")
			if dryRun {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			s := scrubber.New(logger, client, fixup.New(logger), dryRun)
			if err := s.Run(c.Context); err != nil {
				return fmt.Errorf("scrub cycle failed: %w", err)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP normalization service.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen address."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(os.Getenv("LOG_LEVEL"))

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := server.New(logger, fixup.New(logger))
			return srv.ListenAndServe(ctx, c.String("addr"))
		},
	}
}

// parseTimestamp accepts RFC 3339 as well as the basic icalendar forms.
// Anything without an explicit zone is taken as UTC, never as local time.
func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", v)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC1123Z,
	}))
	slog.SetDefault(logger)
	return logger
}
