package adb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ServerState is the connection state the ADB server reports for a transport.
type ServerState int32

const (
	ServerConnecting ServerState = iota
	ServerAuthorizing
	ServerUnauthorized
	ServerNoPermission
	ServerDetached
	ServerOffline
	ServerBootloader
	ServerDevice
	ServerHost
	ServerRecovery
	ServerSideload
	ServerRescue
)

var serverStateNames = [...]string{
	"connecting", "authorizing", "unauthorized", "no permissions", "detached",
	"offline", "bootloader", "device", "host", "recovery", "sideload", "rescue",
}

func (s ServerState) String() string {
	if s >= 0 && int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// RawDevice is one entry of a track-devices snapshot, as the server reports it.
type RawDevice struct {
	Serial      string
	State       ServerState
	BusAddress  string
	Product     string
	Model       string
	Device      string
	Type        ConnectionType
	TransportID uint64
}

// Field numbers of the server's devices.proto.
const (
	fieldDevicesDevice = 1

	fieldSerial      = 1
	fieldState       = 2
	fieldBusAddress  = 3
	fieldProduct     = 4
	fieldModel       = 5
	fieldDevice      = 6
	fieldConnType    = 7
	fieldTransportID = 10
)

// decodeDevices parses one binary device-list frame.
func decodeDevices(b []byte) ([]RawDevice, error) {
	var devices []RawDevice
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode devices: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldDevicesDevice && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode devices: %w", protowire.ParseError(n))
			}
			b = b[n:]
			d, err := decodeDevice(v)
			if err != nil {
				return nil, err
			}
			devices = append(devices, d)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("decode devices: %w", protowire.ParseError(n))
		}
		b = b[n:]
	}
	return devices, nil
}

func decodeDevice(b []byte) (RawDevice, error) {
	var d RawDevice
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, fmt.Errorf("decode device: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return d, fmt.Errorf("decode device: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSerial:
				d.Serial = string(v)
			case fieldBusAddress:
				d.BusAddress = string(v)
			case fieldProduct:
				d.Product = string(v)
			case fieldModel:
				d.Model = string(v)
			case fieldDevice:
				d.Device = string(v)
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, fmt.Errorf("decode device: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldState:
				d.State = ServerState(int32(v))
			case fieldConnType:
				d.Type = connectionTypeFromProto(v)
			case fieldTransportID:
				d.TransportID = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, fmt.Errorf("decode device: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return d, nil
}

func connectionTypeFromProto(v uint64) ConnectionType {
	switch v {
	case 1:
		return USB
	case 2:
		return TCP
	default:
		return Unknown
	}
}
