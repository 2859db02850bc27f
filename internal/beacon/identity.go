// Package beacon manages the welcome beacon's advertising lifecycle: the
// manufacturer payload, start/stop of broadcasting, the single connection
// slot and the GATT services exposed to a connected central.
package beacon

import "github.com/google/uuid"

// Identity is what a beacon broadcasts. It does not change once a Core is built.
type Identity struct {
	UUID    uuid.UUID
	Major   uint8
	Minor   uint8
	TxPower int8 // dBm
}
