// Package device defines the radio-stack collaborator consumed by the waypoint
// transmission engine.
//
// It provides:
//   - The Radio and Client interfaces (power, scan, connect, discover, write, reset)
//   - Descriptor, the per-scan identity of a discovered peripheral
//   - UUID normalization shared by matching and characteristic resolution
//   - Sentinel errors for radio power and connection state
package device
