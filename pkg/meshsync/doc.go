// ABOUTME: High-level mesh clock sync library API
// ABOUTME: Provides the Node type for embedding applications
// Package meshsync distributes one logical clock across a broadcast mesh.
//
// One node is the authority. It periodically broadcasts bursts of timed
// slots; every client that hears a burst fits its own clock against the
// sender's with linear regression, then re-broadcasts its corrected time
// so sync spreads hop by hop.
//
// For lower-level control, see the protocol package.
//
// Example:
//
//	medium := meshsync.NewMedium(meshsync.MediumConfig{})
//	node, err := meshsync.NewNode(meshsync.NodeConfig{
//	    Name:      "sensor-1",
//	    Transport: medium.Attach("sensor-1"),
//	})
//	err = node.SetRole(meshsync.RoleClient)
//	err = node.Init()
//	now := node.CurrentUnixTimeMicros()
package meshsync
