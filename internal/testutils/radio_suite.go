package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeRadioSuite provides a reusable test suite around a FakeRadio.
//
// Basic usage (default radio: powered on, nothing advertising):
//
//	type SimpleSuite struct {
//	    testutils.FakeRadioSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom radio usage:
//
//	func (s *SessionSuite) SetupTest() {
//	    s.WithRadio().
//	        WithWaypointPeripheral("AA:BB:CC:DD:EE:FF", "ESP32 Nav")
//
//	    s.FakeRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
//
// Tests that need a different radio mid-test call s.UseRadio(builder).
type FakeRadioSuite struct {
	suite.Suite

	// Core test utilities
	Helper *TestHelper
	Logger *logrus.Logger

	// Short waits keep scenario tests fast
	TestTimeout time.Duration

	RadioBuilder *FakeRadioBuilder
	Radio        *FakeRadio
}

// SetupSuite initializes the helper and logger. Called once before all tests.
func (s *FakeRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second

	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the configured radio, or a default one. Called before each test.
func (s *FakeRadioSuite) SetupTest() {
	if s.RadioBuilder == nil {
		s.RadioBuilder = NewFakeRadioBuilder()
	}
	s.Radio = s.RadioBuilder.Build()

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the radio configuration after each test.
func (s *FakeRadioSuite) TearDownTest() {
	s.RadioBuilder = nil
	s.Radio = nil
}

// WithRadio returns the radio builder for fluent configuration in SetupTest.
func (s *FakeRadioSuite) WithRadio() *FakeRadioBuilder {
	if s.RadioBuilder == nil {
		s.RadioBuilder = NewFakeRadioBuilder()
	}
	return s.RadioBuilder
}

// UseRadio replaces the current radio with one built from b.
func (s *FakeRadioSuite) UseRadio(b *FakeRadioBuilder) *FakeRadio {
	s.RadioBuilder = b
	s.Radio = b.Build()
	return s.Radio
}

// JSON returns a JSON asserter bound to the current test
func (s *FakeRadioSuite) JSON() *JSONAsserter {
	return NewJSONAsserter(s.T())
}

// Text returns a text asserter bound to the current test
func (s *FakeRadioSuite) Text() *TextAsserter {
	return NewTextAsserter(s.T())
}
