package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ritten/internal/backend"
	"ritten/internal/cli"
	"ritten/internal/config"
	"ritten/internal/core"
	applog "ritten/internal/log"
	"ritten/internal/services"
	"ritten/internal/storage"
)

// app holds what the subcommands share once PersistentPreRunE has opened the store.
type app struct {
	dbPath   string
	timezone string
	verbose  bool

	cfg     *config.Config
	logger  *applog.Logger
	loc     *time.Location
	backend *backend.Result
	mileage *services.MileageService
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "rittenctl",
		Short:         "Record odometer readings and reconcile them against work mileage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	cli.LoadEnvFile()
	defaults := config.Load()
	root.PersistentFlags().StringVar(&a.dbPath, "db", defaults.SQLiteDBPath, "SQLite database path")
	root.PersistentFlags().StringVar(&a.timezone, "timezone", defaults.Timezone, "timezone anchoring fiscal years")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		a.overviewCmd(),
		a.readingCmd(),
		a.carChangeCmd(),
		a.workCmd(),
		a.migrateCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := applog.ParseLevel("warn")
	if a.verbose {
		level = applog.ParseLevel("debug")
	}
	a.logger = applog.New(applog.Config{Level: level, Component: applog.ComponentCLI, Output: cmd.ErrOrStderr()})

	a.cfg = config.Load()
	a.cfg.SQLiteDBPath = a.dbPath
	a.cfg.Timezone = a.timezone
	a.cfg.DataBackend = string(backend.SQLiteBackend)
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	a.loc = loc

	// migrate manages the schema itself
	if cmd.Name() == "migrate" {
		return nil
	}

	bcfg, err := backend.FromAppConfig(a.cfg)
	if err != nil {
		return err
	}
	a.backend, err = backend.NewFactory(a.logger).Create(cmd.Context(), bcfg)
	if err != nil {
		return err
	}

	svcCfg := services.MileageServiceConfig{Location: loc, Logger: a.logger}
	if a.backend.Publisher != nil {
		svcCfg.Publisher = a.backend.Publisher
	}
	a.mileage = services.NewMileageService(a.backend.Repository, svcCfg)
	return nil
}

func (a *app) close() error {
	if a.backend == nil {
		return nil
	}
	if a.backend.Publisher != nil {
		_ = a.backend.Publisher.Close()
	}
	if a.backend.Cleanup != nil {
		return a.backend.Cleanup()
	}
	return nil
}

func (a *app) overviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overview [fiscal-year]",
		Short: "Show driven, business and private kilometres of a fiscal year (default: current)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fy := a.mileage.CurrentFiscalYear()
			if len(args) == 1 {
				y, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("fiscal year %q: %w", args[0], err)
				}
				fy = core.FiscalYear(y)
			}
			res, err := a.mileage.Overview(cmd.Context(), fy)
			if err != nil {
				return err
			}
			printOverview(cmd.OutOrStdout(), res, a.loc)
			return nil
		},
	}
}

func printOverview(out io.Writer, res core.Result, loc *time.Location) {
	s := res.Summarize()
	start, end := res.FiscalYear.Window(loc)
	fmt.Fprintf(out, "Fiscal year %s (%s to %s)\n", s.FiscalYear, start.Format("2006-01-02"), end.AddDate(0, 0, -1).Format("2006-01-02"))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total driven:\t%s\n", withUnit(s.TotalKm))
	fmt.Fprintf(tw, "Business:\t%s\n", withUnit(s.BusinessKm))
	fmt.Fprintf(tw, "Private:\t%s\n", withUnit(s.PrivateKm))
	_ = tw.Flush()
}

func withUnit(v string) string {
	if v == core.InsufficientDataLabel {
		return v
	}
	return v + " km"
}

func (a *app) readingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reading", Short: "Manage odometer readings"}

	var km float64
	var at string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record an odometer reading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts := time.Now().In(a.loc)
			if at != "" {
				var err error
				if ts, err = parseInstant(at, a.loc); err != nil {
					return err
				}
			}
			stored, err := a.mileage.RecordReading(cmd.Context(), core.OdometerReading{Timestamp: ts, TotalKm: km})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded reading #%d: %s km at %s\n", stored.ID, core.FormatKm(stored.TotalKm), stored.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
	add.Flags().Float64Var(&km, "km", 0, "odometer total in kilometres")
	add.Flags().StringVar(&at, "at", "", "date (YYYY-MM-DD) or RFC 3339 timestamp, default now")
	_ = add.MarkFlagRequired("km")

	list := &cobra.Command{
		Use:   "list",
		Short: "List readings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			readings, err := a.mileage.ListReadings(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIMESTAMP\tKM")
			for _, r := range readings {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, r.Timestamp.In(a.loc).Format(time.RFC3339), core.FormatKm(r.TotalKm))
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mileage.DeleteReading(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted reading #%d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func (a *app) carChangeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "car-change", Short: "Manage vehicle replacements"}

	var date string
	var oldKm, newKm float64
	add := &cobra.Command{
		Use:   "add",
		Short: "Record the replacement of the vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseInstant(date, a.loc)
			if err != nil {
				return err
			}
			stored, err := a.mileage.RecordCarChange(cmd.Context(), core.CarChangeEvent{Date: d, OldCarFinalKm: oldKm, NewCarStartKm: newKm})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded car change #%d on %s\n", stored.ID, stored.Date.Format("2006-01-02"))
			return nil
		},
	}
	add.Flags().StringVar(&date, "date", "", "change date (YYYY-MM-DD)")
	add.Flags().Float64Var(&oldKm, "old-final-km", 0, "final odometer of the old vehicle")
	add.Flags().Float64Var(&newKm, "new-start-km", 0, "starting odometer of the new vehicle")
	for _, f := range []string{"date", "old-final-km", "new-start-km"} {
		_ = add.MarkFlagRequired(f)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List car changes, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := a.mileage.ListCarChanges(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tOLD FINAL KM\tNEW START KM")
			for _, c := range changes {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Date.In(a.loc).Format("2006-01-02"), core.FormatKm(c.OldCarFinalKm), core.FormatKm(c.NewCarStartKm))
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a car change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.mileage.DeleteCarChange(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted car change #%d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}

func (a *app) workCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "work", Short: "Manage reported work mileage"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List work mileage per month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.mileage.WorkMileage(cmd.Context())
			if err != nil {
				return err
			}
			months := make([]string, 0, len(table))
			for m := range table {
				months = append(months, m)
			}
			slices.Sort(months)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "MONTH\tKM")
			for _, m := range months {
				fmt.Fprintf(tw, "%s\t%s\n", m, core.FormatKm(table[m]))
			}
			return tw.Flush()
		},
	}

	importChart := &cobra.Command{
		Use:   "import-chart [FILE]",
		Short: "Merge chart point labels, one per line, from FILE or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			labels, err := readLabels(in)
			if err != nil {
				return err
			}
			imp, err := a.mileage.ImportChartLabels(cmd.Context(), labels)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d points into %d months (%d labels skipped)\n", imp.Points, len(imp.Table), imp.Skipped)
			return nil
		},
	}

	cmd.AddCommand(list, importChart)
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.RunMigrations(a.dbPath); err != nil {
				return err
			}
			version, dirty, err := storage.MigrationVersion(a.dbPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}

func readLabels(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, sc.Err()
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
}
