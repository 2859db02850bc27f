//go:build linux && !baremetal

package bluez

import "tinygo.org/x/bluetooth"

func newAdapter(id string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(id)
}
