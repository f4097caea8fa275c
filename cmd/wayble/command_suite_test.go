package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/wayble/internal/device"
	"github.com/srg/wayble/internal/devicefactory"
	"github.com/srg/wayble/internal/testutils"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// testConfigYAML keeps every wait short so scenario tests stay fast
const testConfigYAML = `log_level: panic
scan_window: 150ms
retry_delay: 1ms
disconnect_settle: 1ms
chunk_delay: 0s
reset_settle: 1ms
reset_settle_follow: 1ms
`

// CommandTestSuite extends FakeRadioSuite with command testing utilities.
// Every command runs against the suite radio through devicefactory.RadioFactory.
type CommandTestSuite struct {
	testutils.FakeRadioSuite

	ConfigPath string

	originalRadioFactory func(logger *logrus.Logger) device.Radio
}

// SetupSuite installs the fake radio factory and writes the test config
func (s *CommandTestSuite) SetupSuite() {
	s.FakeRadioSuite.SetupSuite()
	color.NoColor = true

	s.ConfigPath = filepath.Join(s.T().TempDir(), "wayble.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(testConfigYAML), 0o600), "config MUST be writable")

	s.originalRadioFactory = devicefactory.RadioFactory
	devicefactory.RadioFactory = func(_ *logrus.Logger) device.Radio {
		return s.Radio
	}
}

// TearDownSuite restores the production radio factory
func (s *CommandTestSuite) TearDownSuite() {
	devicefactory.RadioFactory = s.originalRadioFactory
}

// SetupTest builds the radio and resets every command flag to its default.
// Embedding suites configure s.WithRadio() first, then call this.
func (s *CommandTestSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()
	resetCommandFlags()
}

// resetCommandFlags re-registers every flag so values from a previous
// Execute do not leak into the next one.
func resetCommandFlags() {
	rootCmd.ResetFlags()
	addRootFlags(rootCmd)

	sendCmd.ResetFlags()
	addSendFlags(sendCmd)

	scanCmd.ResetFlags()
	addScanFlags(scanCmd)

	resetCmd.ResetFlags()
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	out, errOut, err := s.ExecuteCommandSplit(cmd, args...)
	return out + errOut, err
}

// ExecuteCommandSplit runs a cobra command and returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommandSplit(cmd *cobra.Command, args ...string) (string, string, error) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// WriteFile writes content to a file in a per-test temp dir and returns its path
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "test file MUST be writable")
	return path
}
