// Package scaling reduces the reference trace to the performance envelope of
// the vehicle under test. Phases whose required power exceeds the downscale
// threshold are compressed in two segments so the phase rejoins the original
// trace at its exit speed, and an optional speed cap is applied with in-phase
// distance compensation.
package scaling

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/drivelab/gearshift/pkg/models"
)

// kinematic constants of the regulation power formula.
const (
	rotatingMassFactor = 1.03    // accounts for the inertia of rotating parts
	kmhPerMs           = 3.6     // km/h per m/s
	powerUnitsDivisor  = 3600.0  // combined (W -> kW) x (km/h -> m/s) divisor
	distanceTolerance  = 0.001   // +-0.1% on the per-phase distance
	negligibleFactor   = 0.01    // downscale factors at or below this are dropped
)

// Scaler downscales a reference trace for one vehicle. Stateless between
// calls.
type Scaler struct {
	log  zerolog.Logger
	opts models.Options
}

// NewScaler returns a Scaler using the given per-case options.
func NewScaler(opts models.Options, log zerolog.Logger) *Scaler {
	return &Scaler{
		log:  log.With().Str("component", "scaling").Logger(),
		opts: opts,
	}
}

// Accelerations returns the per-sample acceleration in m/s^2 from a km/h
// speed series sampled at 1 Hz. The last sample has acceleration 0.
func Accelerations(speeds []float64) []float64 {
	accels := make([]float64, len(speeds))
	for i := 0; i < len(speeds)-1; i++ {
		accels[i] = (speeds[i+1] - speeds[i]) / kmhPerMs
	}

	return accels
}

// RequiredPowers returns the per-sample power in kW the vehicle needs to
// follow the speed series: road load plus the inertial term.
func RequiredPowers(vehicle models.VehicleProfile, speeds, accels []float64) []float64 {
	powers := make([]float64, len(speeds))
	for i, v := range speeds {
		inertial := rotatingMassFactor * accels[i] * v * vehicle.TestMass / powerUnitsDivisor
		powers[i] = vehicle.RoadLoadPower(v) + inertial
	}

	return powers
}

// Scale produces the downscaled, optionally capped trace for the vehicle.
// ratedPower is the rated engine power in kW.
func (s *Scaler) Scale(vehicle models.VehicleProfile, ratedPower float64, trace models.ReferenceTrace) (models.ScaledTrace, error) {
	if ratedPower <= 0 {
		return models.ScaledTrace{}, fmt.Errorf("%w: rated power must be positive", models.ErrData)
	}

	speeds := trace.Speeds()
	accels := Accelerations(speeds)
	powers := RequiredPowers(vehicle, speeds, accels)

	scaled := models.ScaledTrace{
		Speeds:      append([]float64(nil), speeds...),
		Phases:      trace.Phases,
		Factors:     make([]float64, len(trace.Phases)),
		PowerRatios: make([]float64, len(trace.Phases)),
		Downscaled:  make([]bool, len(speeds)),
		Capped:      make([]bool, len(speeds)),
	}

	for p, phase := range trace.Phases {
		ratio := maxInRange(powers, phase.Start, phase.End) / ratedPower
		scaled.PowerRatios[p] = ratio

		factor := s.downscaleFactor(ratio)
		scaled.Factors[p] = factor
		if factor == 0 {
			continue
		}

		if err := s.compressPhase(&scaled, speeds, accels, phase, factor); err != nil {
			return models.ScaledTrace{}, fmt.Errorf("phase %q: %w", phase.Name, err)
		}

		s.log.Info().
			Str("phase", phase.Name).
			Float64("power_ratio", ratio).
			Float64("factor", factor).
			Msg("phase downscaled")
	}

	if s.opts.SpeedCap > 0 {
		s.applySpeedCap(&scaled)
	}

	return scaled, nil
}

// downscaleFactor maps a required-to-rated power ratio to the phase downscale
// factor. Ratios below the threshold keep the trace unchanged, and factors at
// or below 1% are treated as zero.
func (s *Scaler) downscaleFactor(ratio float64) float64 {
	if !s.opts.ApplyDownscaling || ratio < s.opts.DownscaleThreshold {
		return 0
	}

	factor := round3(s.opts.DownscaleA1*ratio + s.opts.DownscaleB1)
	if factor <= negligibleFactor {
		return 0
	}

	return factor
}

// compressPhase rewrites one phase of scaled.Speeds. The acceleration segment
// up to the phase's peak speed is scaled by (1-factor); the correction
// segment after the peak uses a correction factor chosen so the phase exit
// speed rejoins the original trace.
func (s *Scaler) compressPhase(scaled *models.ScaledTrace, speeds, accels []float64, phase models.Phase, factor float64) error {
	start, end := phase.Start, phase.End
	peak := start
	for i := start; i < end; i++ {
		if speeds[i] > speeds[peak] {
			peak = i
		}
	}

	down := make([]float64, end-start)
	down[0] = speeds[start]
	for i := start; i < peak; i++ {
		down[i-start+1] = down[i-start] + accels[i]*(1-factor)*kmhPerMs
	}

	exit := speeds[end-1]
	span := speeds[peak] - exit
	correction := 0.0
	if span > 0 {
		correction = (down[peak-start] - exit) / span
	}
	for i := peak; i < end-1; i++ {
		down[i-start+1] = down[i-start] + accels[i]*correction*kmhPerMs
	}

	target := sum(down)

	var realised float64
	for i := start; i < end; i++ {
		v := round4(down[i-start])
		if v < 0 {
			return fmt.Errorf("%w: downscale factor %.3f drives speed negative at t=%d",
				models.ErrInfeasibleScaling, factor, i)
		}
		if v > speeds[i] {
			v = speeds[i]
		}
		if v < speeds[i] {
			scaled.Downscaled[i] = true
		}
		scaled.Speeds[i] = v
		realised += v
	}

	if target > 0 && math.Abs(realised-target)/target > distanceTolerance {
		return fmt.Errorf("%w: compressed phase distance %.4f deviates more than 0.1%% from %.4f",
			models.ErrInfeasibleScaling, realised, target)
	}

	return nil
}

// applySpeedCap limits every sample to the cap and restores the lost distance
// inside the same phase by raising trailing sub-cap samples toward the cap.
// The sample count never changes; any distance that cannot be recovered
// in-phase is logged.
func (s *Scaler) applySpeedCap(scaled *models.ScaledTrace) {
	limit := s.opts.SpeedCap

	for _, phase := range scaled.Phases {
		var deficit float64
		for i := phase.Start; i < phase.End; i++ {
			switch {
			case scaled.Speeds[i] > limit:
				deficit += scaled.Speeds[i] - limit
				scaled.Speeds[i] = limit
				scaled.Capped[i] = true
			case deficit > 0 && scaled.Speeds[i] > 1:
				headroom := limit - scaled.Speeds[i]
				raise := math.Min(headroom, deficit)
				scaled.Speeds[i] = round4(scaled.Speeds[i] + raise)
				scaled.Capped[i] = true
				deficit -= raise
			}
		}

		if deficit > 1e-9 {
			s.log.Warn().
				Str("phase", phase.Name).
				Float64("residual_distance", deficit).
				Msg("speed cap distance not fully compensated in phase")
		}
	}
}

// Resample interpolates raw trace samples onto a strict 1 Hz grid. Samples
// already on the grid are returned unchanged.
func Resample(samples []models.TraceSample) []models.TraceSample {
	if len(samples) < 2 {
		return samples
	}

	onGrid := true
	for i := 1; i < len(samples); i++ {
		if samples[i].Time != samples[i-1].Time+1 {
			onGrid = false
			break
		}
	}
	if onGrid {
		return samples
	}

	first, last := samples[0].Time, samples[len(samples)-1].Time
	out := make([]models.TraceSample, 0, last-first+1)
	src := 0
	for t := first; t <= last; t++ {
		for src < len(samples)-1 && samples[src+1].Time <= t {
			src++
		}
		v := samples[src].Speed
		if samples[src].Time < t && src < len(samples)-1 {
			lo, hi := samples[src], samples[src+1]
			frac := float64(t-lo.Time) / float64(hi.Time-lo.Time)
			v = lo.Speed + frac*(hi.Speed-lo.Speed)
		}
		out = append(out, models.TraceSample{Time: t, Speed: round4(v)})
	}

	return out
}

func maxInRange(values []float64, start, end int) float64 {
	max := math.Inf(-1)
	for i := start; i < end && i < len(values); i++ {
		if values[i] > max {
			max = values[i]
		}
	}

	return max
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}

	return total
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
