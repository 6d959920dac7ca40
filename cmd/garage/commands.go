package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/app"
	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/ingest"
	"github.com/WessleyAI/wessley-garage/engine/rag"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/config"
	"github.com/urfave/cli/v3"
)

var envFlag = &cli.StringFlag{
	Name:  "env",
	Usage: "dotenv file to load before reading the environment",
	Value: ".env",
}

func userFlag() *cli.StringFlag {
	return &cli.StringFlag{Name: "user", Usage: "user id", Required: true}
}

func newCommand(out, errOut io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "garage",
		Usage:     "vehicle-aware automotive question answering",
		Writer:    out,
		ErrWriter: errOut,
		Flags:     []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "answer a question for a user's garage",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "vehicle", Usage: "currently selected vehicle id"},
					&cli.BoolFlag{Name: "no-docs", Usage: "skip document retrieval"},
					&cli.BoolFlag{Name: "metric", Usage: "answer in metric units"},
					&cli.BoolFlag{Name: "json", Usage: "print the full response as JSON"},
				},
				Action: askAction,
			},
			{
				Name:  "vehicle",
				Usage: "garage vehicle commands",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "register a vehicle, subject to the user's tier",
						Flags: []cli.Flag{
							userFlag(),
							&cli.StringFlag{Name: "make", Required: true},
							&cli.StringFlag{Name: "model", Required: true},
							&cli.IntFlag{Name: "year", Required: true},
							&cli.StringFlag{Name: "nickname"},
							&cli.StringFlag{Name: "trim"},
							&cli.StringFlag{Name: "engine"},
						},
						Action: vehicleAddAction,
					},
					{
						Name:   "list",
						Usage:  "list a user's vehicles",
						Flags:  []cli.Flag{userFlag()},
						Action: vehicleListAction,
					},
					{
						Name:      "remove",
						Usage:     "remove a vehicle from a user's garage",
						ArgsUsage: "<vehicle-id>",
						Flags:     []cli.Flag{userFlag()},
						Action:    vehicleRemoveAction,
					},
				},
			},
			{
				Name:  "doc",
				Usage: "document commands",
				Commands: []*cli.Command{
					{
						Name:      "upload",
						Usage:     "index a text document for retrieval",
						ArgsUsage: "<file>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "user", Usage: "owning user id"},
							&cli.StringFlag{Name: "title", Usage: "document title (defaults to the file name)"},
							&cli.StringFlag{Name: "make"},
							&cli.StringFlag{Name: "model"},
							&cli.IntFlag{Name: "year"},
							&cli.BoolFlag{Name: "system", Usage: "share the document with every user"},
						},
						Action: docUploadAction,
					},
				},
			},
			{
				Name:  "tier",
				Usage: "usage tier commands",
				Commands: []*cli.Command{
					{
						Name:  "set",
						Usage: "set a user's subscription tier",
						Flags: []cli.Flag{
							userFlag(),
							&cli.StringFlag{Name: "tier", Usage: "free_tier, weekend_warrior or master_tech", Required: true},
						},
						Action: tierSetAction,
					},
					{
						Name:  "override",
						Usage: "grant a temporary tier that takes precedence until it expires",
						Flags: []cli.Flag{
							userFlag(),
							&cli.StringFlag{Name: "tier", Required: true},
							&cli.DurationFlag{Name: "for", Usage: "override lifetime", Value: 24 * time.Hour},
						},
						Action: tierOverrideAction,
					},
				},
			},
			{
				Name:   "usage",
				Usage:  "show a user's usage and remaining allowance",
				Flags:  []cli.Flag{userFlag()},
				Action: usageAction,
			},
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String("env"))
}

func openApp(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, cfg.NewLogger(cmd.Root().ErrWriter))
}

func openUsage(cmd *cli.Command) (*usage.SQLiteStore, *usage.Limiter, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := usage.OpenSQLite(cfg.UsageDBPath)
	if err != nil {
		return nil, nil, err
	}
	return store, usage.NewLimiter(store, nil, cfg.NewLogger(cmd.Root().ErrWriter)), nil
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return errors.New("a question is required")
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	units := domain.DefaultUnits()
	if cmd.Bool("metric") {
		units = domain.MetricUnits()
	}
	resp, err := a.Pipeline.Ask(ctx, rag.Request{
		UserID:       cmd.String("user"),
		Question:     question,
		VehicleID:    cmd.String("vehicle"),
		UseDocuments: !cmd.Bool("no-docs"),
		Units:        units,
	})
	var denied *domain.UsageDeniedError
	if errors.As(err, &denied) {
		return errors.New(denied.Reason)
	}
	if err != nil {
		return err
	}
	return printResponse(cmd.Root().Writer, resp, cmd.Bool("json"))
}

func printResponse(w io.Writer, resp *rag.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "confidence: %.2f  consistency: %.2f  documents: %d\n", resp.Confidence, resp.ConsistencyScore, resp.DocumentsFound)
	if resp.EffectiveVehicle != nil {
		fmt.Fprintf(w, "vehicle: %s (%s match)\n", resp.EffectiveVehicle.DisplayName(), resp.MatchConfidence)
	}
	if resp.NeedsVehicleConfirmation != "" {
		fmt.Fprintf(w, "confirm: %s\n", resp.NeedsVehicleConfirmation)
	}
	if len(resp.UsedDocuments) > 0 {
		fmt.Fprintf(w, "sources: %s\n", strings.Join(resp.UsedDocuments, "; "))
	}
	if resp.Notes != "" {
		fmt.Fprintf(w, "notes: %s\n", resp.Notes)
	}
	return nil
}

func vehicleAddAction(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	user := cmd.String("user")
	existing, err := a.Garage.GetUserVehicles(ctx, user)
	if err != nil {
		return err
	}
	d, err := a.Usage.CheckVehicleLimit(ctx, user, len(existing))
	if err != nil {
		return err
	}
	if !d.Allowed {
		return errors.New(d.Reason)
	}
	v, err := a.Garage.AddVehicle(ctx, user, domain.Vehicle{
		Make:     cmd.String("make"),
		Model:    cmd.String("model"),
		Year:     int(cmd.Int("year")),
		Nickname: cmd.String("nickname"),
		Trim:     cmd.String("trim"),
		Engine:   cmd.String("engine"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "added %s: %s\n", v.ID, v.DisplayName())
	return nil
}

func vehicleListAction(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	vehicles, err := a.Garage.GetUserVehicles(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	if len(vehicles) == 0 {
		fmt.Fprintln(w, "garage is empty")
		return nil
	}
	for _, v := range vehicles {
		fmt.Fprintf(w, "%s\t%s\n", v.ID, v.DisplayName())
	}
	return nil
}

func vehicleRemoveAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("a vehicle id is required")
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Garage.RemoveVehicle(ctx, cmd.String("user"), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "removed %s\n", id)
	return nil
}

func docUploadAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("a file is required")
	}
	if !cmd.Bool("system") && cmd.String("user") == "" {
		return errors.New("--user is required unless --system is set")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	title := cmd.String("title")
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	res, err := a.Ingest.Ingest(ctx, ingest.Upload{
		UserID:  cmd.String("user"),
		Title:   title,
		Content: string(content),
		Make:    cmd.String("make"),
		Model:   cmd.String("model"),
		Year:    int(cmd.Int("year")),
		System:  cmd.Bool("system"),
	})
	var denied *domain.UsageDeniedError
	if errors.As(err, &denied) {
		return errors.New(denied.Reason)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "indexed %s (%d passages)\n", res.DocID, res.Chunks)
	return nil
}

func parseTier(s string) (usage.Tier, error) {
	t := usage.Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

func tierSetAction(ctx context.Context, cmd *cli.Command) error {
	tier, err := parseTier(cmd.String("tier"))
	if err != nil {
		return err
	}
	store, _, err := openUsage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	user := cmd.String("user")
	if err := store.SetTier(ctx, user, tier); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s is now %s\n", user, tier)
	return nil
}

func tierOverrideAction(ctx context.Context, cmd *cli.Command) error {
	tier, err := parseTier(cmd.String("tier"))
	if err != nil {
		return err
	}
	lifetime := cmd.Duration("for")
	if lifetime <= 0 {
		return errors.New("--for must be positive")
	}
	store, _, err := openUsage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	user := cmd.String("user")
	expires := time.Now().Add(lifetime).UTC()
	if err := store.SetOverride(ctx, user, tier, expires); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s is %s until %s\n", user, tier, expires.Format(time.RFC3339))
	return nil
}

func usageAction(ctx context.Context, cmd *cli.Command) error {
	store, limiter, err := openUsage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := limiter.Stats(ctx, cmd.String("user"))
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	fmt.Fprintf(w, "user: %s\ntier: %s\n", st.UserID, st.Tier)
	fmt.Fprintf(w, "asks today: %d\nasks this month: %d\ndocument searches this month: %d\ndocument uploads: %d\n",
		st.AsksToday, st.AsksMonth, st.DocumentSearches, st.Uploads)
	if st.RemainingAsks != nil {
		fmt.Fprintf(w, "remaining asks: %d\n", *st.RemainingAsks)
	} else {
		fmt.Fprintln(w, "remaining asks: unlimited")
	}
	fmt.Fprintf(w, "can ask: %t\n", st.CanAsk)
	return nil
}
