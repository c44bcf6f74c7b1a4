package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/drivelab/gearshift/pkg/models"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	path := filepath.Join(suite.T().TempDir(), "results.db")
	store, err := Open(path, zerolog.Nop())
	suite.Require().NoError(err)

	suite.store = store
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *StoreTestSuite) TestSaveRunPersistsAndLoadsSummaries() {
	// Arrange
	solutions := []*models.Solution{
		{
			CaseName:       "case-a",
			AverageGear:    3.2,
			ChecksumVxGear: 1234.5,
			Rows: []models.SolutionRow{
				{Time: 0, VehicleSpeed: 0, EngineSpeed: 750, Gear: 0},
				{Time: 1, VehicleSpeed: 10, EngineSpeed: 1238, AvailablePower: 20, Gear: 1},
			},
			Diagnostics: models.Diagnostics{
				PowerInsufficient: []int{42},
				NeutralInsertions: []models.NeutralInsertion{{Time: 7, Reason: "downshift 5->1 exceeds 3 steps"}},
			},
		},
		{CaseName: "case-b", AverageGear: 2.5},
	}

	// Act
	runID, err := suite.store.SaveRun(solutions)

	// Assert
	suite.Require().NoError(err)
	suite.NotEmpty(runID)

	summaries, err := suite.store.LoadRun(runID)
	suite.Require().NoError(err)
	suite.Require().Len(summaries, 2)
	suite.Equal("case-a", summaries[0].CaseName)
	suite.InDelta(3.2, summaries[0].AverageGear, 1e-9)
	suite.Equal(1, summaries[0].PowerInsufficient)
	suite.Equal(1, summaries[0].NeutralInsertions)
	suite.Equal("case-b", summaries[1].CaseName)
}

func (suite *StoreTestSuite) TestLoadRunReturnsEmptyForUnknownRun() {
	// Act
	summaries, err := suite.store.LoadRun("no-such-run")

	// Assert
	suite.NoError(err)
	suite.Empty(summaries)
}
