package tsch

import "fmt"

/*------------------------------------------------------------------
 *
 * Purpose:	Opaque 8-byte link-layer address (spec.md §3 data model).
 *
 *------------------------------------------------------------------*/

// Addr is an 8-byte IEEE 802.15.4 extended link-layer address.
type Addr [8]byte

// NullAddr is the distinguished broadcast address.
var NullAddr = Addr{}

// IsBroadcast reports whether a is the broadcast address.
func (a Addr) IsBroadcast() bool {
	return a == NullAddr
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
}
