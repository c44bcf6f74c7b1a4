package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
	vehicle VehicleProfile
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}

func (suite *ModelsTestSuite) SetupTest() {
	suite.vehicle = VehicleProfile{
		Name:            "test-vehicle",
		IdleEngineSpeed: 750,
		TestMass:        1500,
		F0:              100,
		F1:              0.5,
		F2:              0.03,
		GearCount:       2,
		GearRatios:      []float64{3.5, 2.2},
		FinalDrive:      4.0,
		WheelRadius:     0.3,
		Curve: FullLoadCurve{
			{EngineSpeed: 1000, Power: 20},
			{EngineSpeed: 5000, Power: 100},
		},
	}
}

func (suite *ModelsTestSuite) TestVehicleValidateAcceptsCompleteProfile() {
	// Act
	err := suite.vehicle.Validate()

	// Assert
	suite.NoError(err)
}

func (suite *ModelsTestSuite) TestVehicleValidateRejectsRatioCountMismatch() {
	// Arrange
	suite.vehicle.GearRatios = []float64{3.5}

	// Act
	err := suite.vehicle.Validate()

	// Assert
	suite.ErrorIs(err, ErrData)
}

func (suite *ModelsTestSuite) TestNDVMatchesGearGeometry() {
	// Act
	ndv := suite.vehicle.NDV(1)

	// Assert: 3.5 * 4.0 * (1000/60) / (2*pi*0.3) rpm per km/h
	want := 3.5 * 4.0 * (1000.0 / 60.0) / (2 * math.Pi * 0.3)
	suite.InDelta(want, ndv, 1e-9)
	suite.Equal(0.0, suite.vehicle.NDV(0))
	suite.Equal(0.0, suite.vehicle.NDV(3))
}

func (suite *ModelsTestSuite) TestRoadLoadPowerAppliesCoastdownCoefficients() {
	// Act
	power := suite.vehicle.RoadLoadPower(50)

	// Assert
	want := (100*50 + 0.5*2500 + 0.03*125000) / 3600.0
	suite.InDelta(want, power, 1e-9)
}

func (suite *ModelsTestSuite) TestTraceValidateRejectsGapInSampleTimes() {
	// Arrange
	trace := ReferenceTrace{
		Samples: []TraceSample{{Time: 0, Speed: 0}, {Time: 2, Speed: 5}},
	}

	// Act
	err := trace.Validate()

	// Assert
	suite.ErrorIs(err, ErrData)
}

func (suite *ModelsTestSuite) TestTraceValidateRejectsPhaseOutsideTrace() {
	// Arrange
	trace := ReferenceTrace{
		Samples: []TraceSample{{Time: 0, Speed: 0}, {Time: 1, Speed: 5}},
		Phases:  []Phase{{Name: "low", Start: 0, End: 3}},
	}

	// Act
	err := trace.Validate()

	// Assert
	suite.ErrorIs(err, ErrData)
}

func (suite *ModelsTestSuite) TestGearSequenceValidateRejectsGearAboveCount() {
	// Arrange
	seq := GearSequence{0, 1, 3}

	// Act
	err := seq.Validate(2)

	// Assert
	suite.ErrorIs(err, ErrData)
}

func (suite *ModelsTestSuite) TestGearSequenceCloneIsIndependent() {
	// Arrange
	seq := GearSequence{1, 2, 3}

	// Act
	clone := seq.Clone()
	clone[0] = 5

	// Assert
	suite.Equal(1, seq[0])
	suite.False(seq.Equal(clone))
	suite.True(seq.Equal(GearSequence{1, 2, 3}))
}

func (suite *ModelsTestSuite) TestDefaultOptionsCarryRegulationConstants() {
	// Act
	opts := DefaultOptions()

	// Assert
	suite.Equal(3, opts.DownshiftStepLimit)
	suite.Equal(2, opts.MinGearDuration)
	suite.InDelta(0.1, opts.SafetyMargin, 1e-9)
	suite.True(opts.ApplyDownscaling)
	suite.InDelta(0.867, opts.DownscaleThreshold, 1e-9)
	suite.InDelta(0.588, opts.DownscaleA1, 1e-9)
	suite.InDelta(-0.510, opts.DownscaleB1, 1e-9)
}
