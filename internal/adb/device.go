package adb

import (
	"cmp"
	"fmt"
	"strings"
)

// ConnectionType indicates how a device is connected.
type ConnectionType string

const (
	USB     ConnectionType = "usb"
	TCP     ConnectionType = "tcp"
	Unknown ConnectionType = "unknown"
)

// rank orders connection types by preference: USB above TCP above unknown.
func (t ConnectionType) rank() int {
	switch t {
	case USB:
		return 2
	case TCP:
		return 1
	default:
		return 0
	}
}

// StateKind is the liveness classification of a transport.
type StateKind int

const (
	Online StateKind = iota
	Offline
	Other
)

// State is a device's liveness. Reason is set for Other.
type State struct {
	Kind   StateKind
	Reason string
}

var (
	StateOnline  = State{Kind: Online}
	StateOffline = State{Kind: Offline}
)

// StateOther returns an Other state carrying reason.
func StateOther(reason string) State { return State{Kind: Other, Reason: reason} }

func (s State) String() string {
	switch s.Kind {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return s.Reason
	}
}

// Descriptor is either a *Device (online, identity resolved) or an
// *OfflineDevice. Values are immutable snapshots.
type Descriptor interface {
	ConnectionType() ConnectionType
	State() State
	TransportID() uint64
	Serial() string
	// EstimatedID is the connection-independent id, or "" if unresolved.
	EstimatedID() string

	descriptor()
}

// Device is an online device whose stable id has been resolved.
type Device struct {
	id          string
	connType    ConnectionType
	transportID uint64
	serial      string
	brand       string
	model       string
}

// NewDevice builds an online device snapshot.
func NewDevice(id string, connType ConnectionType, transportID uint64, serial, brand, model string) *Device {
	return &Device{id: id, connType: connType, transportID: transportID, serial: serial, brand: brand, model: model}
}

func (d *Device) ID() string                     { return d.id }
func (d *Device) ConnectionType() ConnectionType { return d.connType }
func (d *Device) State() State                   { return StateOnline }
func (d *Device) TransportID() uint64            { return d.transportID }
func (d *Device) Serial() string                 { return d.serial }
func (d *Device) EstimatedID() string            { return d.id }
func (d *Device) Brand() string                  { return d.brand }
func (d *Device) Model() string                  { return d.model }
func (d *Device) descriptor()                    {}

// Label is the model alone if it already starts with the brand, else "brand model".
func (d *Device) Label() string {
	if strings.HasPrefix(strings.ToLower(d.model), strings.ToLower(d.brand)) {
		return d.model
	}
	return d.brand + " " + d.model
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s, %s, transport %d)", d.Label(), d.id, d.connType, d.transportID)
}

// OfflineDevice is a transport that is not (or not yet) fully online.
type OfflineDevice struct {
	connType    ConnectionType
	state       State
	transportID uint64
	serial      string
	estimatedID string
}

// NewOfflineDevice builds a snapshot for a transport that is not online.
func NewOfflineDevice(connType ConnectionType, state State, transportID uint64, serial, estimatedID string) *OfflineDevice {
	return &OfflineDevice{connType: connType, state: state, transportID: transportID, serial: serial, estimatedID: estimatedID}
}

func (d *OfflineDevice) ConnectionType() ConnectionType { return d.connType }
func (d *OfflineDevice) State() State                   { return d.state }
func (d *OfflineDevice) TransportID() uint64            { return d.transportID }
func (d *OfflineDevice) Serial() string                 { return d.serial }
func (d *OfflineDevice) EstimatedID() string            { return d.estimatedID }
func (d *OfflineDevice) descriptor()                    {}

func (d *OfflineDevice) String() string {
	return fmt.Sprintf("%s (%s, %s, transport %d)", d.serial, d.state, d.connType, d.transportID)
}

// Compare orders descriptors: online devices first by id then by connection
// type (USB first), everything else by transport id.
func Compare(a, b Descriptor) int {
	da, aOnline := a.(*Device)
	db, bOnline := b.(*Device)
	switch {
	case aOnline && bOnline:
		if c := cmp.Compare(da.id, db.id); c != 0 {
			return c
		}
		return cmp.Compare(db.connType.rank(), da.connType.rank())
	case aOnline:
		return -1
	case bOnline:
		return 1
	}
	return cmp.Compare(a.TransportID(), b.TransportID())
}

// IsOnline returns true if d is an online device.
func IsOnline(d Descriptor) bool {
	if d == nil {
		return false
	}
	_, ok := d.(*Device)
	return ok
}
