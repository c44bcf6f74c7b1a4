package corrections

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/drivelab/gearshift/internal/solver"
	"github.com/drivelab/gearshift/pkg/models"
)

type CorrectionsTestSuite struct {
	suite.Suite
}

func TestCorrectionsTestSuite(t *testing.T) {
	suite.Run(t, new(CorrectionsTestSuite))
}

// contextFor builds a pass context with phases classified from the speeds
// and the per-gear engine speeds of a five-gear test vehicle.
func contextFor(speeds []float64, opts models.Options) *Context {
	vehicle := models.VehicleProfile{
		IdleEngineSpeed: 750,
		GearCount:       5,
		GearRatios:      []float64{3.5, 2.2, 1.5, 1.1, 0.9},
		FinalDrive:      4.0,
		WheelRadius:     0.3,
	}

	accels := make([]float64, len(speeds))
	for i := 0; i < len(speeds)-1; i++ {
		accels[i] = (speeds[i+1] - speeds[i]) / 3.6
	}

	engineSpeeds := make([][]float64, len(speeds))
	for i, v := range speeds {
		engineSpeeds[i] = make([]float64, vehicle.GearCount)
		for g := 1; g <= vehicle.GearCount; g++ {
			engineSpeeds[i][g-1] = vehicle.NDV(g) * v
		}
	}

	return &Context{
		Phases:               solver.ClassifyPhases(speeds, accels),
		RequiredEngineSpeeds: engineSpeeds,
		IdleEngineSpeed:      vehicle.IdleEngineSpeed,
		Opts:                 opts,
		Diag:                 &models.Diagnostics{},
	}
}

func (suite *CorrectionsTestSuite) TestNewPipelineRejectsPassBeforeItsPrerequisite() {
	// Act
	pipeline, err := NewPipeline(zerolog.Nop(), shortSpikeMerge{}, accelUpshiftSmoothing{})

	// Assert
	suite.Nil(pipeline)
	suite.ErrorIs(err, models.ErrOrderingViolation)
}

func (suite *CorrectionsTestSuite) TestNewPipelineRejectsDuplicatePass() {
	// Act
	pipeline, err := NewPipeline(zerolog.Nop(), accelUpshiftSmoothing{}, accelUpshiftSmoothing{})

	// Assert
	suite.Nil(pipeline)
	suite.ErrorIs(err, models.ErrOrderingViolation)
}

func (suite *CorrectionsTestSuite) TestDefaultPipelineSatisfiesItsOwnOrdering() {
	// Act
	pipeline, err := Default(zerolog.Nop())

	// Assert
	suite.NoError(err)
	suite.NotNil(pipeline)
}

func (suite *CorrectionsTestSuite) TestAccelSmoothingForbidsGearSkippingWhileAccelerating() {
	// Arrange
	opts := models.DefaultOptions()
	opts.MinGearDuration = 1
	ctx := contextFor([]float64{10, 20, 30, 40, 50}, opts)
	seq := models.GearSequence{1, 3, 5, 5, 5}

	// Act
	got := accelUpshiftSmoothing{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{1, 2, 3, 4, 5}, got)
}

func (suite *CorrectionsTestSuite) TestAccelSmoothingExtendsPreviousGearOverShortUse() {
	// Arrange
	ctx := contextFor([]float64{10, 15, 20, 25, 30, 30}, models.DefaultOptions())
	seq := models.GearSequence{2, 2, 3, 2, 2, 2}

	// Act
	got := accelUpshiftSmoothing{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{2, 2, 2, 2, 2, 2}, got)
}

func (suite *CorrectionsTestSuite) TestAccelAnticipationCapsGearsBeforeDownshift() {
	// Arrange: the drop to 2nd mid-acceleration pulls the earlier 4th-gear
	// samples down to 3rd, one above the downshift target.
	ctx := contextFor([]float64{10, 15, 20, 25, 30, 35}, models.DefaultOptions())
	seq := models.GearSequence{4, 4, 2, 3, 4, 4}

	// Act
	got := accelDownshiftAnticipation{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{3, 3, 2, 3, 4, 4}, got)
}

func (suite *CorrectionsTestSuite) TestShortSpikeMergeFlattensIslandToHigherNeighbour() {
	// Arrange
	ctx := contextFor([]float64{30, 30, 30, 30, 30, 30}, models.DefaultOptions())
	seq := models.GearSequence{1, 3, 3, 2, 2, 2}

	// Act
	got := shortSpikeMerge{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{1, 2, 2, 2, 2, 2}, got)
}

func (suite *CorrectionsTestSuite) TestShortSpikeMergeKeepsIslandsLongerThanFiveSeconds() {
	// Arrange
	speeds := make([]float64, 9)
	for i := range speeds {
		speeds[i] = 30
	}
	ctx := contextFor(speeds, models.DefaultOptions())
	seq := models.GearSequence{2, 4, 4, 4, 4, 4, 4, 2, 2}

	// Act
	got := shortSpikeMerge{}.Apply(seq, ctx)

	// Assert
	suite.Equal(seq, got)
}

func (suite *CorrectionsTestSuite) TestDecelNoUpshiftEnforcesRunningMinimum() {
	// Arrange
	ctx := contextFor([]float64{50, 40, 30, 20, 10, 10}, models.DefaultOptions())
	seq := models.GearSequence{4, 3, 4, 2, 2, 2}

	// Act
	got := decelNoUpshift{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{4, 3, 3, 2, 2, 2}, got)
}

func (suite *CorrectionsTestSuite) TestDecelNoUpshiftTreatsNeutralAsTransparent() {
	// Arrange
	ctx := contextFor([]float64{50, 40, 30, 20, 10, 10}, models.DefaultOptions())
	seq := models.GearSequence{4, 0, 5, 3, 3, 3}

	// Act
	got := decelNoUpshift{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{4, 0, 4, 3, 3, 3}, got)
}

func (suite *CorrectionsTestSuite) TestDecelEngineSpeedDisengagesGearTwoRollingToStop() {
	// Arrange: gear 2 at 9 km/h turns at about 700 rpm, below idle while
	// rolling to a stop; the two-sample engagement before it is cut one
	// sample early.
	ctx := contextFor([]float64{30, 20, 12, 9, 0}, models.DefaultOptions())
	seq := models.GearSequence{3, 2, 2, 2, 0}

	// Act
	got := decelEngineSpeedLimits{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{3, 2, 0, 0, 0}, got)
	suite.Require().Len(ctx.Diag.NeutralInsertions, 2)
	suite.Equal(3, ctx.Diag.NeutralInsertions[0].Time)
	suite.Equal(2, ctx.Diag.NeutralInsertions[1].Time)
}

func (suite *CorrectionsTestSuite) TestDecelEngineSpeedUsesRelaxedFloorInPlainDeceleration() {
	// Arrange: in a deceleration not ending in a stop the floor is 90% of
	// idle, so 9 km/h (about 700 rpm) stays engaged and only 8 km/h falls
	// through; the long engagement before it is kept.
	ctx := contextFor([]float64{12, 11, 10, 9, 8, 2, 2}, models.DefaultOptions())
	seq := models.GearSequence{2, 2, 2, 2, 2, 1, 1}

	// Act
	got := decelEngineSpeedLimits{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{2, 2, 2, 2, 0, 1, 1}, got)
	suite.Require().Len(ctx.Diag.NeutralInsertions, 1)
	suite.Equal(4, ctx.Diag.NeutralInsertions[0].Time)
}

func (suite *CorrectionsTestSuite) TestDownshiftInsertsNeutralForOneSample() {
	// Arrange
	ctx := contextFor([]float64{60, 60, 20, 20}, models.DefaultOptions())
	seq := models.GearSequence{5, 5, 1, 1}

	// Act
	got := downshiftNeutralInsertion{}.Apply(seq, ctx)

	// Assert
	suite.Equal(models.GearSequence{5, 5, 0, 1}, got)
	suite.Require().Len(ctx.Diag.NeutralInsertions, 1)
	suite.Equal(2, ctx.Diag.NeutralInsertions[0].Time)
	suite.False(ctx.Diag.DownshiftDirectUse)
}

func (suite *CorrectionsTestSuite) TestDownshiftDirectUseKeepsTargetGearAndRecordsAuthorisation() {
	// Arrange
	opts := models.DefaultOptions()
	opts.DownshiftDirectUse = true
	ctx := contextFor([]float64{60, 60, 20, 20}, opts)
	seq := models.GearSequence{5, 5, 1, 1}

	// Act
	got := downshiftNeutralInsertion{}.Apply(seq, ctx)

	// Assert
	suite.Equal(seq, got)
	suite.Empty(ctx.Diag.NeutralInsertions)
	suite.True(ctx.Diag.DownshiftDirectUse)
}

func (suite *CorrectionsTestSuite) TestDownshiftWithinStepLimitStaysUntouched() {
	// Arrange
	ctx := contextFor([]float64{60, 60, 30, 30}, models.DefaultOptions())
	seq := models.GearSequence{5, 5, 2, 2}

	// Act
	got := downshiftNeutralInsertion{}.Apply(seq, ctx)

	// Assert
	suite.Equal(seq, got)
	suite.Empty(ctx.Diag.NeutralInsertions)
}

func (suite *CorrectionsTestSuite) TestBoundaryCorrectionsPinStandstillStructure() {
	// Arrange
	ctx := contextFor([]float64{0, 0, 5, 10, 5, 0}, models.DefaultOptions())
	seq := models.GearSequence{3, 2, 1, 2, 1, 2}

	// Act
	got := boundaryCorrections{}.Apply(seq, ctx)

	// Assert: neutral while stopped, 1st pre-engaged before launch, no 1st
	// gear while rolling to a stop
	suite.Equal(models.GearSequence{0, 1, 1, 2, 0, 0}, got)
}

func (suite *CorrectionsTestSuite) TestRunRecordsOneAuditEntryPerPass() {
	// Arrange
	pipeline, err := Default(zerolog.Nop())
	suite.Require().NoError(err)
	ctx := contextFor([]float64{0, 5, 10, 15, 10, 5, 0}, models.DefaultOptions())
	seq := models.GearSequence{0, 1, 1, 2, 2, 1, 0}

	// Act
	_ = pipeline.Run(seq, ctx)

	// Assert
	suite.Require().Len(ctx.Diag.Audit, 7)
	suite.Equal(passAccelUpshiftSmoothing, ctx.Diag.Audit[0].Pass)
	suite.Equal(passAccelDownshiftAnticipation, ctx.Diag.Audit[1].Pass)
	suite.Equal(passShortSpikeMerge, ctx.Diag.Audit[2].Pass)
	suite.Equal(passDecelNoUpshift, ctx.Diag.Audit[3].Pass)
	suite.Equal(passDecelEngineSpeedLimits, ctx.Diag.Audit[4].Pass)
	suite.Equal(passDownshiftNeutralInsertion, ctx.Diag.Audit[5].Pass)
	suite.Equal(passBoundaryCorrections, ctx.Diag.Audit[6].Pass)
}

func (suite *CorrectionsTestSuite) TestEveryPassIsIdempotent() {
	// Arrange
	ctx := contextFor([]float64{0, 5, 15, 30, 45, 60, 40, 20, 5, 0}, models.DefaultOptions())
	seq := models.GearSequence{0, 1, 2, 4, 4, 5, 3, 1, 1, 0}
	passes := []Pass{
		accelUpshiftSmoothing{},
		accelDownshiftAnticipation{},
		shortSpikeMerge{},
		decelNoUpshift{},
		decelEngineSpeedLimits{},
		downshiftNeutralInsertion{},
		boundaryCorrections{},
	}

	for _, pass := range passes {
		// Act
		once := pass.Apply(seq, ctx)
		twice := pass.Apply(once, ctx)

		// Assert
		suite.True(once.Equal(twice), "pass %q is not idempotent", pass.Name())
	}
}
