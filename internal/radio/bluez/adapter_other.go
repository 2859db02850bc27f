//go:build !linux || baremetal

package bluez

import "tinygo.org/x/bluetooth"

// Only BlueZ can address adapters by name; everything else has one controller.
func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
