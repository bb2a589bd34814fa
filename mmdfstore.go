// Package mmdfstore defines the interfaces shared by mail storage backends
// and their callers, and the registries that open backends and
// authentication agents by type name.
//
// The MMDF backend lives in the mmdf package and registers itself as
// "mmdf". Import it with a blank identifier to enable it:
//
//	import _ "github.com/infodancer/mmdfstore/mmdf"
package mmdfstore

// MsgStore is what a backend registered with Register provides: delivery
// into mailbox files and access to their messages.
type MsgStore interface {
	DeliveryAgent
	MessageStore
}
