// Package matcher decides whether a discovered peripheral is a waypoint receiver.
package matcher

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/wayble/internal/device"
)

// DefaultServiceUUID is the service advertised by the navigation firmware.
const DefaultServiceUUID = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"

// DefaultNameSubstrings are matched case-insensitively against the advertised name.
var DefaultNameSubstrings = []string{"esp32", "waypoint", "nav"}

// Options configures a Matcher
type Options struct {
	NameSubstrings []string
	ServiceUUID    string // Optional: empty disables service matching
}

// DefaultOptions returns the firmware defaults
func DefaultOptions() *Options {
	names := make([]string, len(DefaultNameSubstrings))
	copy(names, DefaultNameSubstrings)
	return &Options{
		NameSubstrings: names,
		ServiceUUID:    DefaultServiceUUID,
	}
}

// Matcher classifies descriptors as acceptable targets. It is immutable and
// safe for concurrent use.
type Matcher struct {
	names   []string
	service string
	logger  *logrus.Logger
}

// New creates a Matcher. Substrings are lower-cased once; blank ones are dropped.
func New(opts *Options, logger *logrus.Logger) *Matcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	names := make([]string, 0, len(opts.NameSubstrings))
	for _, n := range opts.NameSubstrings {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}

	return &Matcher{
		names:   names,
		service: device.NormalizeUUID(opts.ServiceUUID),
		logger:  logger,
	}
}

// IsAcceptable reports whether the lower-cased display name contains any
// configured substring, or the advertised services include the target service.
func (m *Matcher) IsAcceptable(d device.Descriptor) bool {
	if reason := m.reason(d); reason != "" {
		m.logger.WithFields(logrus.Fields{
			"address": d.ID,
			"name":    d.DisplayName,
			"reason":  reason,
		}).Debug("Device matched")
		return true
	}
	return false
}

func (m *Matcher) reason(d device.Descriptor) string {
	name := strings.ToLower(d.DisplayName)
	if name != "" {
		for _, sub := range m.names {
			if strings.Contains(name, sub) {
				return "name:" + sub
			}
		}
	}
	if m.service != "" && d.HasService(m.service) {
		return "service"
	}
	return ""
}
