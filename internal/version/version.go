// ABOUTME: Version and product identity constants
// ABOUTME: Shared by the node daemon, hub and simulator
package version

const (
	Version      = "0.1.0"
	Product      = "meshsync-go"
	Manufacturer = "Resonate Protocol"
)
