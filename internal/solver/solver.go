// Package solver assigns an initial gear to every sample of a scaled trace.
// Per-sample per-gear candidates are screened by minimum drive engine speed,
// maximum engine speed and available power, and the gear is picked through an
// enumerated decision table over the drive condition and the relation of the
// candidate to the previous gear.
package solver

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/drivelab/gearshift/internal/curve"
	"github.com/drivelab/gearshift/internal/scaling"
	"github.com/drivelab/gearshift/pkg/models"
)

// vmaxSweepLimit bounds the top-speed search in km/h.
const vmaxSweepLimit = 500.0

// Solver determines the initial gear sequence for one vehicle case.
type Solver struct {
	log     zerolog.Logger
	vehicle models.VehicleProfile
	curve   *curve.Model
	opts    models.Options
}

// Result carries the initial gear sequence together with the per-sample
// screening data later stages need.
type Result struct {
	Gears models.GearSequence

	// PossibleMin and PossibleMax bound the eligible gear window per sample;
	// both are 0 at standstill.
	PossibleMin []int
	PossibleMax []int

	// RequiredEngineSpeeds and AvailablePowers are indexed [sample][gear-1].
	RequiredEngineSpeeds [][]float64
	AvailablePowers      [][]float64
	RequiredPowers       []float64

	// PowerInsufficient lists samples where no gear could deliver the
	// required power and the fallback gear was used.
	PowerInsufficient []int

	Phases DrivePhases
}

// New returns a Solver for the given vehicle and options.
func New(vehicle models.VehicleProfile, curveModel *curve.Model, opts models.Options, log zerolog.Logger) *Solver {
	return &Solver{
		log:     log.With().Str("component", "solver").Logger(),
		vehicle: vehicle,
		curve:   curveModel,
		opts:    opts,
	}
}

// selection decision table, keyed by drive condition and the relation of the
// screened candidate to the previously selected gear.

type gearRelation int

const (
	relHold gearRelation = iota
	relUpshift
	relDownshift
)

type decisionAction int

const (
	actionAccept decisionAction = iota
	actionHoldPrevious
)

type decisionKey struct {
	decelerating bool
	rel          gearRelation
}

var decisions = map[decisionKey]decisionAction{
	{decelerating: false, rel: relHold}:      actionAccept,
	{decelerating: false, rel: relUpshift}:   actionAccept,
	{decelerating: false, rel: relDownshift}: actionAccept,
	{decelerating: true, rel: relHold}:       actionAccept,
	{decelerating: true, rel: relUpshift}:    actionHoldPrevious,
	{decelerating: true, rel: relDownshift}:  actionAccept,
}

// Solve computes the initial gear sequence for the scaled trace.
func (s *Solver) Solve(scaled models.ScaledTrace) (*Result, error) {
	n := len(scaled.Speeds)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty scaled trace", models.ErrData)
	}

	accels := scaling.Accelerations(scaled.Speeds)
	phases := ClassifyPhases(scaled.Speeds, accels)
	requiredPowers := scaling.RequiredPowers(s.vehicle, scaled.Speeds, accels)
	maxEngineSpeed := s.maximumEngineSpeed(scaled.Speeds)

	res := &Result{
		Gears:                make(models.GearSequence, n),
		PossibleMin:          make([]int, n),
		PossibleMax:          make([]int, n),
		RequiredEngineSpeeds: make([][]float64, n),
		AvailablePowers:      make([][]float64, n),
		RequiredPowers:       requiredPowers,
		Phases:               phases,
	}

	prev := 0
	for i := 0; i < n; i++ {
		res.RequiredEngineSpeeds[i] = make([]float64, s.vehicle.GearCount)
		res.AvailablePowers[i] = make([]float64, s.vehicle.GearCount)
		margin := s.opts.SafetyMargin + s.opts.AvailabilityMargin
		for g := 1; g <= s.vehicle.GearCount; g++ {
			engineSpeed := s.curve.NDV(g) * scaled.Speeds[i]
			res.RequiredEngineSpeeds[i][g-1] = engineSpeed
			res.AvailablePowers[i][g-1] = s.curve.AvailablePower(engineSpeed, margin)
		}

		if phases.Standstill(i) {
			res.Gears[i] = 0
			prev = 0
			continue
		}

		gear := s.selectGear(res, phases, i, prev, maxEngineSpeed)
		res.Gears[i] = gear
		prev = gear
	}

	s.log.Debug().
		Int("samples", n).
		Int("power_insufficient", len(res.PowerInsufficient)).
		Msg("initial gear sequence determined")

	return res, nil
}

// selectGear screens every gear at sample i and resolves the candidate
// through the decision table.
func (s *Solver) selectGear(res *Result, phases DrivePhases, i, prev int, maxEngineSpeed float64) int {
	kind := phases.Kinds[i]

	minEligible, maxEligible := 0, 0
	speedValidLow := 0
	powerBlocked := false
	for g := 1; g <= s.vehicle.GearCount; g++ {
		engineSpeed := res.RequiredEngineSpeeds[i][g-1]
		if engineSpeed < s.minDriveEngineSpeed(g, kind) || engineSpeed > maxEngineSpeed {
			continue
		}
		if speedValidLow == 0 {
			speedValidLow = g
		}
		if g > 2 && res.AvailablePowers[i][g-1] < res.RequiredPowers[i] {
			powerBlocked = true
			continue
		}
		if minEligible == 0 {
			minEligible = g
		}
		maxEligible = g
	}
	res.PossibleMin[i] = minEligible
	res.PossibleMax[i] = maxEligible

	candidate := maxEligible
	if candidate == 0 {
		candidate = speedValidLow
		if candidate == 0 {
			candidate = 1
		}
		if powerBlocked {
			res.PowerInsufficient = append(res.PowerInsufficient, i)
			s.log.Warn().
				Int("time", i).
				Int("fallback_gear", candidate).
				Float64("required_power", res.RequiredPowers[i]).
				Msg("no gear delivers the required power")
		}

		return candidate
	}

	action := decisions[decisionKey{
		decelerating: phases.InDeceleration(i),
		rel:          relate(candidate, prev),
	}]
	if action == actionHoldPrevious && prev >= minEligible && prev <= maxEligible {
		candidate = prev
	}

	// launch and 1st-to-2nd hysteresis: out of 1st (or moving off from
	// standstill) stay in 1st until 2nd would run at 1.15x idle.
	launching := prev == 0 && phases.AccelerationFromStandstill(i)
	if (prev == 1 || launching) && candidate >= 2 && res.RequiredEngineSpeeds[i][0] <= maxEngineSpeed {
		threshold := math.Round(1.15 * s.vehicle.IdleEngineSpeed)
		if res.RequiredEngineSpeeds[i][1] < threshold {
			candidate = 1
		}
	}

	return candidate
}

func relate(candidate, prev int) gearRelation {
	switch {
	case prev == 0 || candidate == prev:
		return relHold
	case candidate > prev:
		return relUpshift
	default:
		return relDownshift
	}
}

// minDriveEngineSpeed returns the minimum engine speed in motion for a gear
// in the given drive condition.
func (s *Solver) minDriveEngineSpeed(gear int, kind PhaseKind) float64 {
	idle := s.vehicle.IdleEngineSpeed
	switch {
	case gear == 1:
		return idle
	case gear == 2 && kind == PhaseDecelerationToStandstill:
		return idle
	case gear == 2:
		return 0.9 * idle
	default:
		return idle + 0.125*(s.curve.RatedEngineSpeed()-idle)
	}
}

// maximumEngineSpeed is the upper screening bound: the larger of the
// 95%-of-rated engine speed and the engine speed reached in the top-speed
// gear at the fastest trace sample, limited by the vehicle's cap.
func (s *Solver) maximumEngineSpeed(speeds []float64) float64 {
	vMax := 0.0
	for _, v := range speeds {
		if v > vMax {
			vMax = v
		}
	}

	gearAtVmax := s.gearAtMaxVehicleSpeed()
	limit := math.Max(s.curve.Max95EngineSpeed(), s.curve.NDV(gearAtVmax)*vMax)
	if s.vehicle.EngineSpeedCap > 0 {
		limit = math.Min(limit, s.vehicle.EngineSpeedCap)
	}

	return limit
}

// gearAtMaxVehicleSpeed finds the gear the vehicle reaches its top speed in:
// for every gear the highest speed where 90% of full-load power still covers
// the road load, preferring the higher gear on ties.
func (s *Solver) gearAtMaxVehicleSpeed() int {
	best, bestTop := 1, 0.0
	for g := 1; g <= s.vehicle.GearCount; g++ {
		var top float64
		for v := 0.1; v <= vmaxSweepLimit; v += 0.1 {
			engineSpeed := s.curve.NDV(g) * v
			if 0.9*s.curve.PowerAtExtrapolated(engineSpeed) >= s.vehicle.RoadLoadPower(v) {
				top = v
			}
		}
		if top >= bestTop {
			best, bestTop = g, top
		}
	}

	return best
}
