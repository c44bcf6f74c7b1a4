// Package corrections refines an initial gear sequence through a fixed,
// ordered list of named passes. Every pass is pure and idempotent, declares
// the passes it must run after, and leaves an audit-trail entry with the
// number of samples it changed.
package corrections

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/drivelab/gearshift/internal/solver"
	"github.com/drivelab/gearshift/pkg/models"
)

// Context is the read-only screening data a pass may consult, plus the
// diagnostics sink it reports into.
type Context struct {
	Phases      solver.DrivePhases
	PossibleMin []int
	PossibleMax []int

	// RequiredEngineSpeeds is indexed [sample][gear-1], as produced by the
	// solver.
	RequiredEngineSpeeds [][]float64
	IdleEngineSpeed      float64

	Opts models.Options
	Diag *models.Diagnostics
}

// Pass is one correction step. Apply must not modify its input sequence and
// must be idempotent: applying it to its own output changes nothing.
type Pass interface {
	Name() string
	Requires() []string
	Apply(seq models.GearSequence, ctx *Context) models.GearSequence
}

// Pipeline runs passes in their registered order.
type Pipeline struct {
	log    zerolog.Logger
	passes []Pass
}

// NewPipeline validates that every pass runs after all of its declared
// prerequisites and returns the assembled pipeline. A prerequisite that is
// missing or registered later yields ErrOrderingViolation.
func NewPipeline(log zerolog.Logger, passes ...Pass) (*Pipeline, error) {
	seen := make(map[string]bool, len(passes))
	for _, pass := range passes {
		for _, req := range pass.Requires() {
			if !seen[req] {
				return nil, fmt.Errorf("%w: pass %q requires %q to run first",
					models.ErrOrderingViolation, pass.Name(), req)
			}
		}
		if seen[pass.Name()] {
			return nil, fmt.Errorf("%w: pass %q registered twice", models.ErrOrderingViolation, pass.Name())
		}
		seen[pass.Name()] = true
	}

	return &Pipeline{
		log:    log.With().Str("component", "corrections").Logger(),
		passes: passes,
	}, nil
}

// Default returns the regulation pipeline in its required order.
func Default(log zerolog.Logger) (*Pipeline, error) {
	return NewPipeline(log,
		accelUpshiftSmoothing{},
		accelDownshiftAnticipation{},
		shortSpikeMerge{},
		decelNoUpshift{},
		decelEngineSpeedLimits{},
		downshiftNeutralInsertion{},
		boundaryCorrections{},
	)
}

// Run applies every pass in order and records one audit entry per pass.
func (p *Pipeline) Run(seq models.GearSequence, ctx *Context) models.GearSequence {
	current := seq.Clone()
	for _, pass := range p.passes {
		next := pass.Apply(current, ctx)

		changed := 0
		for i := range next {
			if next[i] != current[i] {
				changed++
			}
		}
		ctx.Diag.Audit = append(ctx.Diag.Audit, models.PassAudit{Pass: pass.Name(), Changed: changed})

		p.log.Debug().
			Str("pass", pass.Name()).
			Int("changed", changed).
			Msg("correction pass applied")

		current = next
	}

	return current
}
