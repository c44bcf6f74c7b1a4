package corrections

import (
	"fmt"

	"github.com/drivelab/gearshift/internal/solver"
	"github.com/drivelab/gearshift/pkg/models"
)

const (
	passAccelUpshiftSmoothing      = "accel-upshift-smoothing"
	passAccelDownshiftAnticipation = "accel-downshift-anticipation"
	passShortSpikeMerge            = "short-spike-merge"
	passDecelNoUpshift             = "decel-no-upshift"
	passDecelEngineSpeedLimits     = "decel-engine-speed-limits"
	passDownshiftNeutralInsertion  = "downshift-neutral-insertion"
	passBoundaryCorrections        = "boundary-corrections"
)

// spikeMergeMaxDuration is the longest higher-gear island, in seconds, that
// still gets flattened to its neighbours.
const spikeMergeMaxDuration = 5

// anticipationWindow is how far ahead, in seconds, an established gear caps
// the samples leading up to it within an acceleration phase.
const anticipationWindow = 10

// accelUpshiftSmoothing enforces the minimum gear duration during
// acceleration and constant-speed driving and forbids skipping gears on
// upshifts while accelerating.
type accelUpshiftSmoothing struct{}

func (accelUpshiftSmoothing) Name() string       { return passAccelUpshiftSmoothing }
func (accelUpshiftSmoothing) Requires() []string { return nil }

func (accelUpshiftSmoothing) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()
	minDuration := ctx.Opts.MinGearDuration
	if minDuration < 1 {
		minDuration = 1
	}

	for changed := true; changed; {
		changed = false

		// single-step upshifts only while accelerating
		for i := 1; i < len(out); i++ {
			if ctx.Phases.InAcceleration(i) && out[i-1] > 0 && out[i] > out[i-1]+1 {
				out[i] = out[i-1] + 1
				changed = true
			}
		}

		// short gear uses extended back to the previous gear
		for start := 1; start < len(out); {
			end := start
			for end < len(out) && out[end] == out[start] {
				end++
			}

			short := end-start < minDuration && end < len(out)
			inMotion := out[start] > 0 && out[start-1] > 0
			smoothable := ctx.Phases.InAcceleration(start) || ctx.Phases.Kinds[start] == solver.PhaseConstant
			if short && inMotion && smoothable && out[start] != out[start-1] {
				for i := start; i < end; i++ {
					out[i] = out[start-1]
				}
				changed = true
			}

			start = end
		}
	}

	return out
}

// accelDownshiftAnticipation extends a downshift needed during an
// acceleration phase back to its reference point: samples before the
// downshift are capped to one gear above its target, and a gear driven for at
// least two of the next ten seconds caps the earlier samples of the phase
// down to it.
type accelDownshiftAnticipation struct{}

func (accelDownshiftAnticipation) Name() string       { return passAccelDownshiftAnticipation }
func (accelDownshiftAnticipation) Requires() []string { return []string{passAccelUpshiftSmoothing} }

func (accelDownshiftAnticipation) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()

	for changed := true; changed; {
		changed = false

		for start := 0; start < len(out); {
			if !ctx.Phases.InAcceleration(start) {
				start++
				continue
			}
			end := start
			for end < len(out) && ctx.Phases.InAcceleration(end) {
				end++
			}

			// no sample may run more than one gear above the lowest engaged
			// gear still ahead of it in the phase
			caps := make([]int, end-start)
			lowestAhead := 0
			for i := end - 1; i >= start; i-- {
				if out[i] > 1 && (lowestAhead == 0 || out[i] < lowestAhead) {
					lowestAhead = out[i]
				}
				caps[i-start] = lowestAhead
			}
			for i := start; i < end; i++ {
				if caps[i-start] > 0 && out[i] > caps[i-start]+1 {
					out[i] = caps[i-start] + 1
					changed = true
				}
			}

			// a gear used twice within the upcoming window is established and
			// caps the current sample directly
			for i := start; i < end; i++ {
				winEnd := i + anticipationWindow
				if winEnd > end {
					winEnd = end
				}
				counts := make(map[int]int)
				for j := i; j < winEnd; j++ {
					if out[j] > 1 {
						counts[out[j]]++
					}
				}
				established := 0
				for gear, n := range counts {
					if n >= 2 && (established == 0 || gear < established) {
						established = gear
					}
				}
				if established > 0 && out[i] > established {
					out[i] = established
					changed = true
				}
			}

			start = end
		}
	}

	return out
}

// shortSpikeMerge flattens 1-5 second islands of a higher gear between two
// lower neighbouring gears down to the higher of the neighbours.
type shortSpikeMerge struct{}

func (shortSpikeMerge) Name() string       { return passShortSpikeMerge }
func (shortSpikeMerge) Requires() []string { return []string{passAccelDownshiftAnticipation} }

func (shortSpikeMerge) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()

	for changed := true; changed; {
		changed = false

		for start := 1; start < len(out); {
			end := start
			for end < len(out) && out[end] == out[start] {
				end++
			}

			if end < len(out) && end-start <= spikeMergeMaxDuration {
				left, right := out[start-1], out[end]
				if left > 0 && right > 0 && out[start] > left && out[start] > right {
					target := left
					if right > target {
						target = right
					}
					for i := start; i < end; i++ {
						out[i] = target
					}
					changed = true
				}
			}

			start = end
		}
	}

	return out
}

// decelNoUpshift makes gears non-increasing within every deceleration phase.
// Gear 0 samples are transparent: the running minimum carries across them.
type decelNoUpshift struct{}

func (decelNoUpshift) Name() string       { return passDecelNoUpshift }
func (decelNoUpshift) Requires() []string { return []string{passShortSpikeMerge} }

func (decelNoUpshift) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()

	for start := 0; start < len(out); {
		if !ctx.Phases.InDeceleration(start) {
			start++
			continue
		}
		end := start
		for end < len(out) && ctx.Phases.InDeceleration(end) {
			end++
		}

		lowest := 0
		for i := start; i < end; i++ {
			if out[i] == 0 {
				continue
			}
			if lowest > 0 && out[i] > lowest {
				out[i] = lowest
			}
			lowest = out[i]
		}

		start = end
	}

	return out
}

// decelEngineSpeedLimits disengages 2nd gear when its engine speed falls
// below the minimum while slowing down: 90% of idle in a plain deceleration,
// idle itself when rolling to a stop. A gear 2 engagement of at most two
// samples right before the disengagement point is cut one sample early.
type decelEngineSpeedLimits struct{}

func (decelEngineSpeedLimits) Name() string       { return passDecelEngineSpeedLimits }
func (decelEngineSpeedLimits) Requires() []string { return []string{passDecelNoUpshift} }

func (decelEngineSpeedLimits) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()
	if len(ctx.RequiredEngineSpeeds) < len(out) || ctx.IdleEngineSpeed <= 0 {
		return out
	}

	first := -1
	for i := range out {
		if out[i] != 2 || !ctx.Phases.InDeceleration(i) {
			continue
		}

		floor := 0.9 * ctx.IdleEngineSpeed
		if ctx.Phases.DecelerationToStandstill(i) {
			floor = ctx.IdleEngineSpeed
		}
		engineSpeed := ctx.RequiredEngineSpeeds[i][1]
		if engineSpeed >= floor {
			continue
		}

		out[i] = 0
		if first < 0 {
			first = i
		}
		ctx.Diag.NeutralInsertions = append(ctx.Diag.NeutralInsertions, models.NeutralInsertion{
			Time:   i,
			Reason: fmt.Sprintf("gear 2 engine speed %.1f below minimum %.1f", engineSpeed, floor),
		})
	}

	if first > 0 {
		run := 0
		for j := first - 1; j >= 0 && seq[j] == 2; j-- {
			run++
		}
		if run >= 1 && run <= 2 {
			out[first-1] = 0
			ctx.Diag.NeutralInsertions = append(ctx.Diag.NeutralInsertions, models.NeutralInsertion{
				Time:   first - 1,
				Reason: "gear 2 engaged too briefly before its disengagement",
			})
		}
	}

	return out
}

// downshiftNeutralInsertion handles downshifts spanning more than the step
// limit across one sample boundary: gear 0 is engaged for exactly one sample
// at the transition, or, when direct use is authorised, the target gear is
// used immediately and the authorisation is recorded.
type downshiftNeutralInsertion struct{}

func (downshiftNeutralInsertion) Name() string       { return passDownshiftNeutralInsertion }
func (downshiftNeutralInsertion) Requires() []string { return []string{passDecelEngineSpeedLimits} }

func (downshiftNeutralInsertion) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()
	limit := ctx.Opts.DownshiftStepLimit
	if limit < 1 {
		limit = 1
	}

	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], out[i]
		if prev <= 0 || cur <= 0 || prev-cur <= limit {
			continue
		}

		if ctx.Opts.DownshiftDirectUse {
			ctx.Diag.DownshiftDirectUse = true
			continue
		}

		out[i] = 0
		ctx.Diag.NeutralInsertions = append(ctx.Diag.NeutralInsertions, models.NeutralInsertion{
			Time:   i,
			Reason: fmt.Sprintf("downshift %d->%d exceeds %d steps", prev, cur, limit),
		})
	}

	return out
}

// boundaryCorrections pins the sequence to the standstill structure of the
// trace: neutral while stopped, first gear engaged one sample before an
// acceleration from standstill, and no first gear inside a deceleration to
// standstill.
type boundaryCorrections struct{}

func (boundaryCorrections) Name() string       { return passBoundaryCorrections }
func (boundaryCorrections) Requires() []string { return []string{passDownshiftNeutralInsertion} }

func (boundaryCorrections) Apply(seq models.GearSequence, ctx *Context) models.GearSequence {
	out := seq.Clone()

	for i := range out {
		if ctx.Phases.Standstill(i) {
			out[i] = 0
		}
		if out[i] == 1 && ctx.Phases.DecelerationToStandstill(i) {
			out[i] = 0
		}
	}

	for i := 1; i < len(out); i++ {
		if ctx.Phases.AccelerationFromStandstill(i) && ctx.Phases.Standstill(i-1) {
			out[i-1] = 1
		}
	}

	return out
}
