// Package assembler projects a corrected gear sequence onto the final
// per-sample solution table: engine speed, available power, vehicle speed and
// gear, plus the aggregate figures and diagnostics of the case.
package assembler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/drivelab/gearshift/internal/curve"
	"github.com/drivelab/gearshift/pkg/models"
)

// Assembler builds the Solution of one case. Stateless between calls.
type Assembler struct {
	log     zerolog.Logger
	vehicle models.VehicleProfile
	curve   *curve.Model
	opts    models.Options
}

// New returns an Assembler for the given vehicle.
func New(vehicle models.VehicleProfile, curveModel *curve.Model, opts models.Options, log zerolog.Logger) *Assembler {
	return &Assembler{
		log:     log.With().Str("component", "assembler").Logger(),
		vehicle: vehicle,
		curve:   curveModel,
		opts:    opts,
	}
}

// Assemble produces the immutable solution table for the case. The gear
// sequence must cover every sample of the scaled trace.
func (a *Assembler) Assemble(caseName string, scaled models.ScaledTrace, gears models.GearSequence, diag models.Diagnostics) (*models.Solution, error) {
	if len(gears) != len(scaled.Speeds) {
		return nil, fmt.Errorf("%w: %d gears for %d trace samples", models.ErrData, len(gears), len(scaled.Speeds))
	}
	if err := gears.Validate(a.vehicle.GearCount); err != nil {
		return nil, err
	}

	rows := make([]models.SolutionRow, len(gears))
	var gearSum, checksum float64
	inMotion := 0
	for i, gear := range gears {
		speed := scaled.Speeds[i]
		row := models.SolutionRow{
			Time:         i,
			VehicleSpeed: speed,
			Gear:         gear,
			EngineSpeed:  a.vehicle.IdleEngineSpeed,
		}

		if gear > 0 && speed >= 1 {
			engineSpeed := a.curve.NDV(gear) * speed
			if engineSpeed < a.vehicle.IdleEngineSpeed {
				// clutch slips rather than letting the engine stall
				engineSpeed = a.vehicle.IdleEngineSpeed
			}
			row.EngineSpeed = engineSpeed
			row.AvailablePower = a.curve.AvailablePower(engineSpeed, a.opts.SafetyMargin+a.opts.AvailabilityMargin)
		}

		if speed >= 1 {
			gearSum += float64(gear)
			checksum += float64(gear) * speed
			inMotion++
		}

		rows[i] = row
	}

	solution := &models.Solution{
		CaseName:    caseName,
		Rows:        rows,
		Diagnostics: diag,
	}
	if inMotion > 0 {
		solution.AverageGear = gearSum / float64(inMotion)
	}
	solution.ChecksumVxGear = checksum

	a.log.Debug().
		Str("case", caseName).
		Int("samples", len(rows)).
		Float64("average_gear", solution.AverageGear).
		Msg("solution assembled")

	return solution, nil
}
