package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestLoadFillsDefaultsForEmptyDocument() {
	// Act
	cfg, err := Load(strings.NewReader(""))

	// Assert
	suite.Require().NoError(err)
	suite.Equal("info", cfg.LogLevel)
	suite.Equal(4, cfg.Workers)
	suite.Empty(cfg.StorePath)
}

func (suite *ConfigTestSuite) TestLoadParsesTopLevelFields() {
	// Arrange
	doc := "log_level: debug\nworkers: 8\nstore_path: results.db\n"

	// Act
	cfg, err := Load(strings.NewReader(doc))

	// Assert
	suite.Require().NoError(err)
	suite.Equal("debug", cfg.LogLevel)
	suite.Equal(8, cfg.Workers)
	suite.Equal("results.db", cfg.StorePath)
}

func (suite *ConfigTestSuite) TestLoadRejectsMalformedYAML() {
	// Act
	_, err := Load(strings.NewReader("workers: [not a number"))

	// Assert
	suite.Error(err)
}

func (suite *ConfigTestSuite) TestCaseOptionsKeepRegulationDefaultsWhenUnset() {
	// Act
	opts := Default().CaseOptions()

	// Assert
	suite.False(opts.DownshiftDirectUse)
	suite.Equal(3, opts.DownshiftStepLimit)
	suite.Equal(2, opts.MinGearDuration)
	suite.InDelta(0.1, opts.SafetyMargin, 1e-9)
	suite.True(opts.ApplyDownscaling)
}

func (suite *ConfigTestSuite) TestCaseOptionsApplyOverrides() {
	// Arrange
	doc := `
options:
  downshift_direct_use: true
  min_gear_duration: 3
  safety_margin: 0.05
  speed_cap: 120
`
	cfg, err := Load(strings.NewReader(doc))
	suite.Require().NoError(err)

	// Act
	opts := cfg.CaseOptions()

	// Assert
	suite.True(opts.DownshiftDirectUse)
	suite.Equal(3, opts.MinGearDuration)
	suite.InDelta(0.05, opts.SafetyMargin, 1e-9)
	suite.InDelta(120.0, opts.SpeedCap, 1e-9)
	// untouched defaults
	suite.Equal(3, opts.DownshiftStepLimit)
	suite.InDelta(0.867, opts.DownscaleThreshold, 1e-9)
}
