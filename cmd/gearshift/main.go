// Command gearshift evaluates WLTC gearshift case sets from the command line
// and optionally persists the results to SQLite.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	gearshift "github.com/drivelab/gearshift"
	"github.com/drivelab/gearshift/internal/config"
	"github.com/drivelab/gearshift/internal/loader"
	"github.com/drivelab/gearshift/internal/store"
	"github.com/drivelab/gearshift/pkg/models"
)

var (
	configPath string
	casesPath  string
	dbPath     string
	logLevel   string
	workers    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gearshift",
		Short: "WLTC trace scaling and shift-point calculation",
		Long:  "Scales reference speed traces to a vehicle's performance envelope and determines the gear to use at every second of the cycle.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a JSON case set",
		RunE:  runCases,
	}
	runCmd.Flags().StringVarP(&casesPath, "cases", "i", "", "path to the JSON case set (required)")
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite results database (overrides store_path)")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides log_level)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "concurrent case evaluations (overrides workers)")
	_ = runCmd.MarkFlagRequired("cases")

	inspectCmd := &cobra.Command{
		Use:   "inspect <run-id>",
		Short: "Show the stored summaries of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectRun,
	}
	inspectCmd.Flags().StringVar(&dbPath, "db", "", "SQLite results database (required)")
	_ = inspectCmd.MarkFlagRequired("db")

	rootCmd.AddCommand(runCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCases(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if dbPath != "" {
		cfg.StorePath = dbPath
	}

	data, err := os.ReadFile(casesPath)
	if err != nil {
		return fmt.Errorf("failed to read case set: %w", err)
	}
	cases, err := loader.LoadCaseSet(data)
	if err != nil {
		return err
	}
	// run-wide option overrides apply to cases that kept the defaults
	defaults := cfg.CaseOptions()
	for i := range cases {
		if cases[i].Options == models.DefaultOptions() {
			cases[i].Options = defaults
		}
	}

	runner, err := gearshift.NewRunner(gearshift.RunnerOpts{
		LogLevel: cfg.LogLevel,
		Workers:  cfg.Workers,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(context.Background(), cases)
	if err != nil {
		return err
	}

	printSummary(result)

	if cfg.StorePath != "" {
		db, err := store.Open(cfg.StorePath, zerolog.New(os.Stderr))
		if err != nil {
			return err
		}
		defer db.Close()

		runID, err := db.SaveRun(result.Solutions)
		if err != nil {
			return err
		}
		fmt.Printf("run stored as %s\n", runID)
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("%d of %d cases failed", len(result.Errors), len(cases))
	}

	return nil
}

func printSummary(result *gearshift.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, solution := range result.Solutions {
		status := green("ok")
		if len(solution.Diagnostics.PowerInsufficient) > 0 {
			status = yellow(fmt.Sprintf("%d power warnings", len(solution.Diagnostics.PowerInsufficient)))
		}
		fmt.Printf("%-30s avg gear %.2f  checksum %.1f  neutrals %d  %s\n",
			solution.CaseName,
			solution.AverageGear,
			solution.ChecksumVxGear,
			len(solution.Diagnostics.NeutralInsertions),
			status,
		)
	}
	for _, caseErr := range result.Errors {
		fmt.Printf("%-30s %s\n", caseErr.CaseName, red(caseErr.Err.Error()))
	}
}

func inspectRun(cmd *cobra.Command, args []string) error {
	db, err := store.Open(dbPath, zerolog.New(os.Stderr))
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, err := db.LoadRun(args[0])
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no run %q in %s", args[0], dbPath)
	}

	for _, sum := range summaries {
		fmt.Printf("%-30s avg gear %.2f  checksum %.1f  power warnings %d  neutrals %d\n",
			sum.CaseName,
			sum.AverageGear,
			sum.ChecksumVxGear,
			sum.PowerInsufficient,
			sum.NeutralInsertions,
		)
	}

	return nil
}
