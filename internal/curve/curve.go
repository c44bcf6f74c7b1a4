// Package curve normalises the discrete full-load power curve of a vehicle
// into a continuous, monotone-preserving power function and derives the
// engine-speed quantities the shift-point solver needs.
package curve

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/drivelab/gearshift/pkg/models"
)

// Model interpolates the full-load curve and carries the derived rated point,
// the 95%-of-rated engine speed and the per-gear Ndv ratios. Build once per
// case; safe for concurrent reads.
type Model struct {
	log     zerolog.Logger
	vehicle models.VehicleProfile

	speeds []float64 // rpm, strictly increasing
	powers []float64 // kW
	slopes []float64 // Fritsch-Carlson tangents, kW per rpm

	ratedPower float64
	ratedSpeed float64
	max95Speed float64
}

// New validates the vehicle's curve and builds the interpolation model.
func New(vehicle models.VehicleProfile, log zerolog.Logger) (*Model, error) {
	if err := vehicle.Curve.Validate(); err != nil {
		return nil, fmt.Errorf("building curve model: %w", err)
	}

	m := &Model{
		log:     log.With().Str("component", "curve").Logger(),
		vehicle: vehicle,
		speeds:  make([]float64, len(vehicle.Curve)),
		powers:  make([]float64, len(vehicle.Curve)),
	}
	for i, p := range vehicle.Curve {
		m.speeds[i] = p.EngineSpeed
		m.powers[i] = p.Power
	}
	m.slopes = monotoneSlopes(m.speeds, m.powers)

	m.deriveRatedPoint()
	if err := m.deriveMax95Speed(); err != nil {
		return nil, err
	}

	m.log.Debug().
		Float64("rated_power", m.ratedPower).
		Float64("rated_engine_speed", m.ratedSpeed).
		Float64("max95_engine_speed", m.max95Speed).
		Msg("curve model ready")

	return m, nil
}

// deriveRatedPoint falls back to the curve maximum when the profile does not
// declare a rated point.
func (m *Model) deriveRatedPoint() {
	m.ratedPower = m.vehicle.RatedPower
	m.ratedSpeed = m.vehicle.RatedEngineSpeed

	if m.ratedPower > 0 && m.ratedSpeed > 0 {
		return
	}

	maxIdx := 0
	for i, p := range m.powers {
		if p > m.powers[maxIdx] {
			maxIdx = i
		}
	}
	m.ratedPower = m.powers[maxIdx]
	m.ratedSpeed = m.speeds[maxIdx]
}

// deriveMax95Speed finds the highest engine speed at which the curve still
// delivers 95% of rated power, interpolating the crossing linearly.
func (m *Model) deriveMax95Speed() error {
	target := 0.95 * m.ratedPower

	last := len(m.powers) - 1
	if m.powers[last] >= target {
		m.max95Speed = m.speeds[last]
		return nil
	}

	for i := last; i > 0; i-- {
		if m.powers[i-1] >= target && m.powers[i] < target {
			span := m.powers[i] - m.powers[i-1]
			frac := (target - m.powers[i-1]) / span
			m.max95Speed = m.speeds[i-1] + frac*(m.speeds[i]-m.speeds[i-1])
			return nil
		}
	}

	return fmt.Errorf("%w: curve never reaches 95%% of rated power %.4f", models.ErrData, m.ratedPower)
}

// PowerAt returns the interpolated full-load power at the given engine speed.
// Engine speeds outside the curve domain return ErrOutOfDomain.
func (m *Model) PowerAt(engineSpeed float64) (float64, error) {
	if engineSpeed < m.speeds[0] || engineSpeed > m.speeds[len(m.speeds)-1] {
		return 0, fmt.Errorf("%w: %.1f rpm not in [%.1f, %.1f]",
			models.ErrOutOfDomain, engineSpeed, m.speeds[0], m.speeds[len(m.speeds)-1])
	}

	return m.eval(engineSpeed), nil
}

// PowerAtClamped evaluates the curve with the engine speed clamped into the
// curve domain. Used where the regulation substitutes the curve boundary
// value for lower gears.
func (m *Model) PowerAtClamped(engineSpeed float64) float64 {
	if engineSpeed < m.speeds[0] {
		engineSpeed = m.speeds[0]
	}
	if engineSpeed > m.speeds[len(m.speeds)-1] {
		engineSpeed = m.speeds[len(m.speeds)-1]
	}

	return m.eval(engineSpeed)
}

// PowerAtExtrapolated evaluates the curve, extending the first and last
// segments linearly beyond the domain. Used for upper gears where the
// regulation extrapolates the full-load curve.
func (m *Model) PowerAtExtrapolated(engineSpeed float64) float64 {
	n := len(m.speeds)
	switch {
	case engineSpeed < m.speeds[0]:
		slope := (m.powers[1] - m.powers[0]) / (m.speeds[1] - m.speeds[0])
		return m.powers[0] + slope*(engineSpeed-m.speeds[0])
	case engineSpeed > m.speeds[n-1]:
		slope := (m.powers[n-1] - m.powers[n-2]) / (m.speeds[n-1] - m.speeds[n-2])
		return m.powers[n-1] + slope*(engineSpeed-m.speeds[n-1])
	default:
		return m.eval(engineSpeed)
	}
}

// AvailablePower is the full-load power at the engine speed reduced by the
// given margin fraction. Engine speeds below the curve domain use the curve
// boundary value; speeds above it extrapolate the last segment.
func (m *Model) AvailablePower(engineSpeed, margin float64) float64 {
	var power float64
	if engineSpeed < m.speeds[0] {
		power = m.PowerAtClamped(engineSpeed)
	} else {
		power = m.PowerAtExtrapolated(engineSpeed)
	}

	return power * (1 - margin)
}

// eval computes the cubic Hermite value on the segment containing x.
func (m *Model) eval(x float64) float64 {
	i := m.segment(x)
	h := m.speeds[i+1] - m.speeds[i]
	t := (x - m.speeds[i]) / h

	h00 := (1 + 2*t) * (1 - t) * (1 - t)
	h10 := t * (1 - t) * (1 - t)
	h01 := t * t * (3 - 2*t)
	h11 := t * t * (t - 1)

	return h00*m.powers[i] + h10*h*m.slopes[i] + h01*m.powers[i+1] + h11*h*m.slopes[i+1]
}

// segment returns the index of the segment [speeds[i], speeds[i+1]]
// containing x, assuming x lies within the domain.
func (m *Model) segment(x float64) int {
	lo, hi := 0, len(m.speeds)-2
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if m.speeds[mid] <= x {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return lo
}

// NDV returns the engine-speed to vehicle-speed ratio of the given gear.
func (m *Model) NDV(gear int) float64 {
	return m.vehicle.NDV(gear)
}

// RatedPower returns the rated power in kW.
func (m *Model) RatedPower() float64 { return m.ratedPower }

// RatedEngineSpeed returns the engine speed of the rated point in rpm.
func (m *Model) RatedEngineSpeed() float64 { return m.ratedSpeed }

// Max95EngineSpeed returns the highest engine speed delivering 95% of rated
// power, in rpm.
func (m *Model) Max95EngineSpeed() float64 { return m.max95Speed }

// Domain returns the engine-speed interval covered by the curve.
func (m *Model) Domain() (min, max float64) {
	return m.speeds[0], m.speeds[len(m.speeds)-1]
}

// monotoneSlopes computes Fritsch-Carlson tangents so that the interpolant
// never overshoots between curve samples.
func monotoneSlopes(xs, ys []float64) []float64 {
	n := len(xs)
	slopes := make([]float64, n)
	if n == 2 {
		d := (ys[1] - ys[0]) / (xs[1] - xs[0])
		slopes[0], slopes[1] = d, d
		return slopes
	}

	h := make([]float64, n-1)
	delta := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		h[i] = xs[i+1] - xs[i]
		delta[i] = (ys[i+1] - ys[i]) / h[i]
	}

	for i := 1; i < n-1; i++ {
		if delta[i-1]*delta[i] <= 0 {
			slopes[i] = 0
			continue
		}
		w1 := 2*h[i] + h[i-1]
		w2 := h[i] + 2*h[i-1]
		slopes[i] = (w1 + w2) / (w1/delta[i-1] + w2/delta[i])
	}

	slopes[0] = endpointSlope(h[0], h[1], delta[0], delta[1])
	slopes[n-1] = endpointSlope(h[n-2], h[n-3], delta[n-2], delta[n-3])

	return slopes
}

// endpointSlope is the one-sided three-point estimate with the usual
// monotonicity clamps.
func endpointSlope(h0, h1, d0, d1 float64) float64 {
	s := ((2*h0+h1)*d0 - h0*d1) / (h0 + h1)
	switch {
	case s*d0 <= 0:
		return 0
	case d0*d1 < 0 && math.Abs(s) > 3*math.Abs(d0):
		return 3 * d0
	default:
		return s
	}
}
