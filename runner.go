// Package gearshift computes WLTC gearshift solutions: it scales a reference
// speed trace to the performance envelope of each vehicle, determines a gear
// for every one-second sample and refines the sequence through the regulated
// correction passes.
package gearshift

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/drivelab/gearshift/internal/assembler"
	"github.com/drivelab/gearshift/internal/corrections"
	"github.com/drivelab/gearshift/internal/curve"
	"github.com/drivelab/gearshift/internal/scaling"
	"github.com/drivelab/gearshift/internal/solver"
	"github.com/drivelab/gearshift/pkg/models"
)

// RunnerOpts configures a Runner. A nil Logger builds one on stdout at the
// given LogLevel.
type RunnerOpts struct {
	LogLevel string
	Logger   *zerolog.Logger
	Workers  int
}

// Runner evaluates independent vehicle cases concurrently.
type Runner struct {
	log     zerolog.Logger
	workers int
}

// CaseError records the failure of one case without aborting the run.
type CaseError struct {
	CaseName string
	Err      error
}

func (e CaseError) Error() string { return fmt.Sprintf("case %q: %v", e.CaseName, e.Err) }

func (e CaseError) Unwrap() error { return e.Err }

// RunResult collects the outcome of one run: the solutions of the cases that
// succeeded and the errors of those that did not.
type RunResult struct {
	Solutions []*models.Solution
	Errors    []CaseError
}

// NewRunner builds a Runner from its options.
func NewRunner(opts RunnerOpts) (*Runner, error) {
	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()

		switch opts.LogLevel {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "off":
			zerolog.SetGlobalLevel(zerolog.Disabled)
		case "":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			log.Warn().Str("log_level", opts.LogLevel).Msg("unknown log level, setting level to info")
		}
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}

	return &Runner{
		log:     log,
		workers: workers,
	}, nil
}

// Run evaluates every case with bounded concurrency. Case failures are
// collected in the result, not propagated; only a cancelled context stops
// the run early.
func (r *Runner) Run(ctx context.Context, cases []models.Case) (*RunResult, error) {
	type outcome struct {
		index    int
		solution *models.Solution
		err      error
	}

	outcomes := make([]outcome, len(cases))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	for i, c := range cases {
		i, c := i, c
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			solution, err := r.EvaluateCase(c)
			outcomes[i] = outcome{index: i, solution: solution, err: err}

			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &RunResult{}
	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, CaseError{CaseName: cases[o.index].Name, Err: o.err})
			continue
		}
		result.Solutions = append(result.Solutions, o.solution)
	}
	sort.Slice(result.Solutions, func(i, j int) bool {
		return result.Solutions[i].CaseName < result.Solutions[j].CaseName
	})

	r.log.Info().
		Int("cases", len(cases)).
		Int("succeeded", len(result.Solutions)).
		Int("failed", len(result.Errors)).
		Msg("run finished")

	return result, nil
}

// EvaluateCase runs the full pipeline for one case: curve model, trace
// scaling, shift-point determination, corrections and solution assembly.
func (r *Runner) EvaluateCase(c models.Case) (*models.Solution, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	log := r.log.With().Str("case", c.Name).Logger()

	curveModel, err := curve.New(c.Vehicle, log)
	if err != nil {
		return nil, fmt.Errorf("building curve model: %w", err)
	}

	scaler := scaling.NewScaler(c.Options, log)
	scaled, err := scaler.Scale(c.Vehicle, curveModel.RatedPower(), c.Trace)
	if err != nil {
		return nil, fmt.Errorf("scaling trace: %w", err)
	}

	shiftSolver := solver.New(c.Vehicle, curveModel, c.Options, log)
	initial, err := shiftSolver.Solve(scaled)
	if err != nil {
		return nil, fmt.Errorf("determining shift points: %w", err)
	}

	pipeline, err := corrections.Default(log)
	if err != nil {
		return nil, fmt.Errorf("building correction pipeline: %w", err)
	}

	diag := models.Diagnostics{PowerInsufficient: initial.PowerInsufficient}
	corrCtx := &corrections.Context{
		Phases:               initial.Phases,
		PossibleMin:          initial.PossibleMin,
		PossibleMax:          initial.PossibleMax,
		RequiredEngineSpeeds: initial.RequiredEngineSpeeds,
		IdleEngineSpeed:      c.Vehicle.IdleEngineSpeed,
		Opts:                 c.Options,
		Diag:                 &diag,
	}
	corrected := pipeline.Run(initial.Gears, corrCtx)

	return assembler.New(c.Vehicle, curveModel, c.Options, log).
		Assemble(c.Name, scaled, corrected, diag)
}
