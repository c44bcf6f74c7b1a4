package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrData indicates malformed input data (non-monotone curve or trace,
	// inconsistent phase boundaries). Fatal for the affected case.
	ErrData = errors.New("invalid input data")

	// ErrInfeasibleScaling indicates the vehicle cannot realise the reference
	// trace even after downscaling. Fatal for the affected case.
	ErrInfeasibleScaling = errors.New("trace scaling infeasible")

	// ErrOrderingViolation indicates a correction pass was wired before one of
	// its declared prerequisites. Always a programming defect.
	ErrOrderingViolation = errors.New("correction pass ordering violation")

	// ErrOutOfDomain indicates an engine speed outside the domain of the
	// supplied full-load curve.
	ErrOutOfDomain = errors.New("engine speed outside power curve domain")
)

// CurvePoint is one sample of the full-load power curve.
type CurvePoint struct {
	EngineSpeed float64 `csv:"engine_speed" json:"engine_speed"` // rpm
	Power       float64 `csv:"power" json:"power"`               // kW
}

// FullLoadCurve is an ordered set of full-load power samples with strictly
// increasing engine speed.
type FullLoadCurve []CurvePoint

// Validate checks the structural invariants of the curve.
func (c FullLoadCurve) Validate() error {
	if len(c) < 2 {
		return fmt.Errorf("%w: full load curve needs at least 2 points, got %d", ErrData, len(c))
	}
	for i, p := range c {
		if p.Power < 0 {
			return fmt.Errorf("%w: negative power %.4f at curve point %d", ErrData, p.Power, i)
		}
		if i > 0 && p.EngineSpeed <= c[i-1].EngineSpeed {
			return fmt.Errorf("%w: engine speeds not strictly increasing at curve point %d", ErrData, i)
		}
	}

	return nil
}

// VehicleProfile describes one vehicle under test. Immutable once loaded.
type VehicleProfile struct {
	Name             string        `json:"name"`
	RatedPower       float64       `json:"rated_power"`        // kW, 0 = derive from curve
	RatedEngineSpeed float64       `json:"rated_engine_speed"` // rpm, 0 = derive from curve
	IdleEngineSpeed  float64       `json:"idle_engine_speed"`  // rpm
	TestMass         float64       `json:"test_mass"`          // kg
	F0               float64       `json:"f0"`                 // road load, N
	F1               float64       `json:"f1"`                 // road load, N/(km/h)
	F2               float64       `json:"f2"`                 // road load, N/(km/h)^2
	GearCount        int           `json:"gear_count"`
	GearRatios       []float64     `json:"gear_ratios"`
	FinalDrive       float64       `json:"final_drive"`
	WheelRadius      float64       `json:"wheel_radius"`     // m
	EngineSpeedCap   float64       `json:"engine_speed_cap"` // rpm, 0 = none
	Curve            FullLoadCurve `json:"full_load_curve"`
}

// Validate checks the structural invariants of the profile.
func (v VehicleProfile) Validate() error {
	switch {
	case v.GearCount < 1:
		return fmt.Errorf("%w: vehicle %q has no forward gears", ErrData, v.Name)
	case len(v.GearRatios) != v.GearCount:
		return fmt.Errorf("%w: vehicle %q declares %d gears but %d ratios", ErrData, v.Name, v.GearCount, len(v.GearRatios))
	case v.IdleEngineSpeed <= 0:
		return fmt.Errorf("%w: vehicle %q idle engine speed must be positive", ErrData, v.Name)
	case v.TestMass <= 0:
		return fmt.Errorf("%w: vehicle %q test mass must be positive", ErrData, v.Name)
	case v.FinalDrive <= 0 || v.WheelRadius <= 0:
		return fmt.Errorf("%w: vehicle %q final drive and wheel radius must be positive", ErrData, v.Name)
	}
	for g, ratio := range v.GearRatios {
		if ratio <= 0 {
			return fmt.Errorf("%w: vehicle %q gear %d ratio must be positive", ErrData, v.Name, g+1)
		}
	}

	return v.Curve.Validate()
}

// NDV returns the engine speed per unit vehicle speed (rpm per km/h) for the
// given forward gear.
func (v VehicleProfile) NDV(gear int) float64 {
	if gear < 1 || gear > v.GearCount {
		return 0
	}

	wheelRevsPerKmh := (1000.0 / 60.0) / (2 * math.Pi * v.WheelRadius)

	return v.GearRatios[gear-1] * v.FinalDrive * wheelRevsPerKmh
}

// RoadLoadPower returns the power in kW needed to overcome rolling and
// aerodynamic resistance at the given vehicle speed in km/h.
func (v VehicleProfile) RoadLoadPower(speed float64) float64 {
	return (v.F0*speed + v.F1*speed*speed + v.F2*speed*speed*speed) / 3600
}

// TraceSample is one second of the reference cycle.
type TraceSample struct {
	Time  int     `csv:"time" json:"time"`   // s
	Speed float64 `csv:"speed" json:"speed"` // km/h
}

// Phase names a contiguous slice of the trace. End is exclusive.
type Phase struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ReferenceTrace is the standardised speed-over-time cycle partitioned into
// named phases.
type ReferenceTrace struct {
	Samples []TraceSample `json:"samples"`
	Phases  []Phase       `json:"phases"`
}

// Validate checks strictly increasing one-second sample spacing and that all
// phase boundaries lie within the trace.
func (t ReferenceTrace) Validate() error {
	if len(t.Samples) == 0 {
		return fmt.Errorf("%w: empty reference trace", ErrData)
	}
	for i, s := range t.Samples {
		if s.Speed < 0 {
			return fmt.Errorf("%w: negative trace speed at t=%d", ErrData, s.Time)
		}
		if i > 0 && s.Time != t.Samples[i-1].Time+1 {
			return fmt.Errorf("%w: trace times must increase in one-second steps at index %d", ErrData, i)
		}
	}
	for _, p := range t.Phases {
		if p.Start < 0 || p.End > len(t.Samples) || p.Start >= p.End {
			return fmt.Errorf("%w: phase %q boundaries [%d,%d) outside trace of length %d",
				ErrData, p.Name, p.Start, p.End, len(t.Samples))
		}
	}

	return nil
}

// Speeds returns the target vehicle speed of every sample.
func (t ReferenceTrace) Speeds() []float64 {
	speeds := make([]float64, len(t.Samples))
	for i, s := range t.Samples {
		speeds[i] = s.Speed
	}

	return speeds
}

// ScaledTrace is a ReferenceTrace after per-phase downscaling. Same length and
// phase structure as its input.
type ScaledTrace struct {
	Speeds      []float64 // km/h, one per original sample
	Phases      []Phase
	Factors     []float64 // downscale factor per phase, 0 = unchanged
	PowerRatios []float64 // required-to-rated power ratio per phase
	Downscaled  []bool    // per sample, true where the speed was reduced
	Capped      []bool    // per sample, true where the speed cap applied
}

// PhaseDistance returns the distance covered within the given phase in
// km/h-seconds (speed samples summed over one-second steps).
func (t ScaledTrace) PhaseDistance(p Phase) float64 {
	var sum float64
	for i := p.Start; i < p.End && i < len(t.Speeds); i++ {
		sum += t.Speeds[i]
	}

	return sum
}

// GearSequence assigns one gear per trace sample. Gear 0 means clutch
// disengaged / neutral.
type GearSequence []int

// Clone returns an independent copy of the sequence.
func (g GearSequence) Clone() GearSequence {
	out := make(GearSequence, len(g))
	copy(out, g)

	return out
}

// Equal reports whether two sequences select the same gear at every sample.
func (g GearSequence) Equal(other GearSequence) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}

	return true
}

// Validate checks every gear lies in {0, 1, .., gearCount}.
func (g GearSequence) Validate(gearCount int) error {
	for t, gear := range g {
		if gear < 0 || gear > gearCount {
			return fmt.Errorf("%w: gear %d at t=%d outside 0..%d", ErrData, gear, t, gearCount)
		}
	}

	return nil
}

// NeutralInsertion records one gear-0 sample inserted by a correction pass.
type NeutralInsertion struct {
	Time   int
	Reason string
}

// PassAudit records one correction pass application and how many samples it
// changed.
type PassAudit struct {
	Pass    string
	Changed int
}

// Diagnostics is the non-fatal per-case finding list.
type Diagnostics struct {
	PowerInsufficient  []int
	NeutralInsertions  []NeutralInsertion
	Audit              []PassAudit
	DownshiftDirectUse bool // set when the direct-use authorisation was exercised
}

// SolutionRow is one sample of the final per-case result table.
type SolutionRow struct {
	Time           int
	VehicleSpeed   float64 // km/h
	EngineSpeed    float64 // rpm
	AvailablePower float64 // kW, 0 while the clutch is disengaged
	Gear           int
}

// Solution is the immutable final result of one case.
type Solution struct {
	CaseName       string
	Rows           []SolutionRow
	AverageGear    float64 // over samples in motion
	ChecksumVxGear float64 // sum of gear x speed over samples in motion
	Diagnostics    Diagnostics
}

// Options is the recognised per-case configuration set.
type Options struct {
	DownshiftDirectUse bool    // skip gear-0 insertion, use the target gear directly
	DownshiftStepLimit int     // downshift steps per transition before gear 0 is inserted
	MinGearDuration    int     // seconds a gear must stay engaged
	AvailabilityMargin float64 // ASM fraction on top of the safety margin
	SafetyMargin       float64 // fraction of full-load power held in reserve

	ApplyDownscaling   bool
	DownscaleThreshold float64 // r0: required-to-rated power ratio triggering downscaling
	DownscaleA1        float64 // factor = a1*ratio + b1 once the threshold is reached
	DownscaleB1        float64
	SpeedCap           float64 // km/h, 0 = none
}

// DefaultOptions returns the regulation defaults for an unspecified case.
func DefaultOptions() Options {
	return Options{
		DownshiftStepLimit: 3,
		MinGearDuration:    2,
		SafetyMargin:       0.1,
		ApplyDownscaling:   true,
		DownscaleThreshold: 0.867,
		DownscaleA1:        0.588,
		DownscaleB1:        -0.510,
	}
}

// Case is one named vehicle + trace + configuration run through the pipeline.
type Case struct {
	Name    string
	Vehicle VehicleProfile
	Trace   ReferenceTrace
	Options Options
}

// Validate checks the case inputs before the pipeline starts.
func (c Case) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: case name must not be empty", ErrData)
	}
	if err := c.Vehicle.Validate(); err != nil {
		return fmt.Errorf("case %q: %w", c.Name, err)
	}
	if err := c.Trace.Validate(); err != nil {
		return fmt.Errorf("case %q: %w", c.Name, err)
	}

	return nil
}
