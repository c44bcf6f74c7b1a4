package solver

// standstillThreshold is the vehicle speed in km/h below which the vehicle
// counts as stopped.
const standstillThreshold = 1.0

// PhaseKind classifies one trace sample by its drive condition.
type PhaseKind int

const (
	PhaseStandstill PhaseKind = iota
	PhaseAcceleration
	PhaseAccelerationFromStandstill
	PhaseDeceleration
	PhaseDecelerationToStandstill
	PhaseConstant
)

// String returns the phase name used in logs and diagnostics.
func (k PhaseKind) String() string {
	switch k {
	case PhaseStandstill:
		return "standstill"
	case PhaseAcceleration:
		return "acceleration"
	case PhaseAccelerationFromStandstill:
		return "acceleration-from-standstill"
	case PhaseDeceleration:
		return "deceleration"
	case PhaseDecelerationToStandstill:
		return "deceleration-to-standstill"
	case PhaseConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// DrivePhases holds the per-sample drive condition of a trace.
type DrivePhases struct {
	Kinds []PhaseKind
}

// Standstill reports whether sample i is a standstill sample.
func (p DrivePhases) Standstill(i int) bool {
	return p.Kinds[i] == PhaseStandstill
}

// InAcceleration reports whether sample i belongs to an acceleration phase,
// including accelerations from standstill.
func (p DrivePhases) InAcceleration(i int) bool {
	return p.Kinds[i] == PhaseAcceleration || p.Kinds[i] == PhaseAccelerationFromStandstill
}

// InDeceleration reports whether sample i belongs to a deceleration phase,
// including decelerations to standstill.
func (p DrivePhases) InDeceleration(i int) bool {
	return p.Kinds[i] == PhaseDeceleration || p.Kinds[i] == PhaseDecelerationToStandstill
}

// AccelerationFromStandstill reports whether sample i belongs to an
// acceleration phase that starts out of a stop.
func (p DrivePhases) AccelerationFromStandstill(i int) bool {
	return p.Kinds[i] == PhaseAccelerationFromStandstill
}

// DecelerationToStandstill reports whether sample i belongs to a deceleration
// phase that ends in a stop.
func (p DrivePhases) DecelerationToStandstill(i int) bool {
	return p.Kinds[i] == PhaseDecelerationToStandstill
}

// ClassifyPhases derives the drive condition of every sample from the speed
// series and its forward-difference accelerations. Acceleration runs that
// start out of standstill and deceleration runs that end in standstill (or at
// the trace end) get their dedicated kinds.
func ClassifyPhases(speeds, accels []float64) DrivePhases {
	kinds := make([]PhaseKind, len(speeds))
	for i, v := range speeds {
		switch {
		case v < standstillThreshold:
			kinds[i] = PhaseStandstill
		case accels[i] > 0:
			kinds[i] = PhaseAcceleration
		case accels[i] < 0:
			kinds[i] = PhaseDeceleration
		default:
			kinds[i] = PhaseConstant
		}
	}

	for start := 0; start < len(kinds); {
		end := start
		for end < len(kinds) && kinds[end] == kinds[start] {
			end++
		}

		switch kinds[start] {
		case PhaseAcceleration:
			if start == 0 || kinds[start-1] == PhaseStandstill {
				fill(kinds, start, end, PhaseAccelerationFromStandstill)
			}
		case PhaseDeceleration:
			if end == len(kinds) || kinds[end] == PhaseStandstill {
				fill(kinds, start, end, PhaseDecelerationToStandstill)
			}
		}

		start = end
	}

	return DrivePhases{Kinds: kinds}
}

func fill(kinds []PhaseKind, start, end int, kind PhaseKind) {
	for i := start; i < end; i++ {
		kinds[i] = kind
	}
}
