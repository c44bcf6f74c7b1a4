// Package loader reads traces, full-load curves and complete case sets from
// CSV and JSON inputs. Case-set documents are validated against an embedded
// JSON schema before the typed model is built.
package loader

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/drivelab/gearshift/internal/scaling"
	"github.com/drivelab/gearshift/pkg/models"
)

//go:embed caseset_schema.json
var caseSetSchema string

// LoadTraceSamples reads time/speed records from CSV and resamples them onto
// a strict 1 Hz grid.
func LoadTraceSamples(r io.Reader) ([]models.TraceSample, error) {
	var samples []models.TraceSample
	if err := gocsv.Unmarshal(r, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse trace CSV: %w", err)
	}

	return scaling.Resample(samples), nil
}

// LoadFullLoadCurve reads engine_speed/power records from CSV.
func LoadFullLoadCurve(r io.Reader) (models.FullLoadCurve, error) {
	var points []models.CurvePoint
	if err := gocsv.Unmarshal(r, &points); err != nil {
		return nil, fmt.Errorf("failed to parse full load curve CSV: %w", err)
	}

	curve := models.FullLoadCurve(points)
	if err := curve.Validate(); err != nil {
		return nil, err
	}

	return curve, nil
}

// caseSetDocument mirrors the JSON case-set layout. Option fields are
// pointers so absent values fall back to the defaults.
type caseSetDocument struct {
	Cases []struct {
		Name    string                `json:"name"`
		Vehicle models.VehicleProfile `json:"vehicle"`
		Trace   struct {
			Samples      []models.TraceSample `json:"samples"`
			Phases       []models.Phase       `json:"phases"`
			PhaseLengths []int                `json:"phase_lengths"`
		} `json:"trace"`
		Options *struct {
			DownshiftDirectUse *bool    `json:"downshift_direct_use"`
			DownshiftStepLimit *int     `json:"downshift_step_limit"`
			MinGearDuration    *int     `json:"min_gear_duration"`
			AvailabilityMargin *float64 `json:"availability_margin"`
			SafetyMargin       *float64 `json:"safety_margin"`
			ApplyDownscaling   *bool    `json:"apply_downscaling"`
			DownscaleThreshold *float64 `json:"downscale_threshold"`
			DownscaleA1        *float64 `json:"downscale_a1"`
			DownscaleB1        *float64 `json:"downscale_b1"`
			SpeedCap           *float64 `json:"speed_cap"`
		} `json:"options"`
	} `json:"cases"`
}

// LoadCaseSet parses and validates a JSON case-set document and returns the
// ready-to-run cases.
func LoadCaseSet(data []byte) ([]models.Case, error) {
	if err := validateCaseSet(data); err != nil {
		return nil, err
	}

	var doc caseSetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse case set: %w", err)
	}

	cases := make([]models.Case, 0, len(doc.Cases))
	for _, c := range doc.Cases {
		trace := models.ReferenceTrace{
			Samples: scaling.Resample(c.Trace.Samples),
			Phases:  c.Trace.Phases,
		}
		if len(trace.Phases) == 0 {
			trace.Phases = phasesFromLengths(c.Trace.PhaseLengths, len(trace.Samples))
		}

		opts := models.DefaultOptions()
		if o := c.Options; o != nil {
			applyBool(&opts.DownshiftDirectUse, o.DownshiftDirectUse)
			applyInt(&opts.DownshiftStepLimit, o.DownshiftStepLimit)
			applyInt(&opts.MinGearDuration, o.MinGearDuration)
			applyFloat(&opts.AvailabilityMargin, o.AvailabilityMargin)
			applyFloat(&opts.SafetyMargin, o.SafetyMargin)
			applyBool(&opts.ApplyDownscaling, o.ApplyDownscaling)
			applyFloat(&opts.DownscaleThreshold, o.DownscaleThreshold)
			applyFloat(&opts.DownscaleA1, o.DownscaleA1)
			applyFloat(&opts.DownscaleB1, o.DownscaleB1)
			applyFloat(&opts.SpeedCap, o.SpeedCap)
		}

		loaded := models.Case{
			Name:    c.Name,
			Vehicle: c.Vehicle,
			Trace:   trace,
			Options: opts,
		}
		if err := loaded.Validate(); err != nil {
			return nil, err
		}
		cases = append(cases, loaded)
	}

	return cases, nil
}

// validateCaseSet checks the raw document against the embedded schema.
func validateCaseSet(data []byte) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	if err := compiler.AddResource("caseset.schema.json", strings.NewReader(caseSetSchema)); err != nil {
		return fmt.Errorf("failed to load case set schema: %w", err)
	}
	schema, err := compiler.Compile("caseset.schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile case set schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: case set is not valid JSON: %v", models.ErrData, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: case set rejected by schema: %v", models.ErrData, err)
	}

	return nil
}

// phasesFromLengths converts consecutive phase lengths into named phases
// covering the trace.
func phasesFromLengths(lengths []int, traceLen int) []models.Phase {
	if len(lengths) == 0 {
		return []models.Phase{{Name: "cycle", Start: 0, End: traceLen}}
	}

	phases := make([]models.Phase, 0, len(lengths))
	start := 0
	for i, length := range lengths {
		end := start + length
		if end > traceLen {
			end = traceLen
		}
		phases = append(phases, models.Phase{
			Name:  fmt.Sprintf("phase-%d", i+1),
			Start: start,
			End:   end,
		})
		start = end
	}

	return phases
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
