package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/FluidXR/droidtail/internal/logcat"
)

// ErrFailResponse is returned when the server answers a request with FAIL.
var ErrFailResponse = errors.New("adb: server responded FAIL")

// ErrLengthOutOfRange is returned when a host command does not fit a 4-hex-digit prefix.
var ErrLengthOutOfRange = errors.New("adb: length out of range for hex4 prefix")

// ErrClientClosed is returned by lookups on a closed Client.
var ErrClientClosed = errors.New("adb: client closed")

// ConnectErrorKind classifies a failure to reach the ADB server.
type ConnectErrorKind int

const (
	ConnectIO ConnectErrorKind = iota
	ConnectUnknownHost
	ConnectInvalidPort
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectUnknownHost:
		return "unknown host"
	case ConnectInvalidPort:
		return "invalid port"
	default:
		return "i/o failure"
	}
}

// ConnectError is returned by Dial.
type ConnectError struct {
	Kind ConnectErrorKind
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("adb connect %s:%d: %s", e.Host, e.Port, e.Kind)
	}
	return fmt.Sprintf("adb connect %s:%d: %s: %v", e.Host, e.Port, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when the server sends a status word or
// sync tag that is not valid at that point of the exchange.
type MalformedResponseError struct {
	Response string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("adb: malformed response %q", e.Response)
}

// SyncFailError carries the message of a FAIL frame in sync mode.
type SyncFailError struct {
	Message string
}

func (e *SyncFailError) Error() string {
	return fmt.Sprintf("adb sync: FAIL: %s", e.Message)
}

func (e *SyncFailError) Is(target error) bool { return target == ErrFailResponse }

// IllegalArgumentError is returned when a shell argument cannot be quoted.
type IllegalArgumentError struct {
	Argument string
}

func (e *IllegalArgumentError) Error() string {
	return fmt.Sprintf("adb shell: argument %q contains a quote character", e.Argument)
}

// DeviceOfflineError is returned when a device id has no online transport.
type DeviceOfflineError struct {
	DeviceID string
}

func (e *DeviceOfflineError) Error() string {
	return fmt.Sprintf("adb: device %s is offline", e.DeviceID)
}

// ErrorClass groups errors by the retry policy they call for.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassOffline: wait for a device state change.
	ClassOffline
	// ClassTransient: back off and retry.
	ClassTransient
	// ClassProtocol: malformed or unsupported response, likely not retryable.
	ClassProtocol
	ClassArgument
	ClassDecode
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassOffline:
		return "offline"
	case ClassTransient:
		return "transient"
	case ClassProtocol:
		return "protocol"
	case ClassArgument:
		return "argument"
	case ClassDecode:
		return "decode"
	case ClassCanceled:
		return "canceled"
	}
	return "unknown"
}

// Classify maps err onto an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var (
		offline   *DeviceOfflineError
		malformed *MalformedResponseError
		illegal   *IllegalArgumentError
		header    *logcat.HeaderError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.As(err, &offline):
		return ClassOffline
	case errors.As(err, &illegal), errors.Is(err, ErrLengthOutOfRange):
		return ClassArgument
	case errors.As(err, &header):
		return ClassDecode
	case errors.As(err, &malformed), errors.Is(err, ErrFailResponse):
		return ClassProtocol
	}
	return ClassTransient
}

// isTimeout reports whether err is a socket read deadline expiring.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isExpectedClose reports whether err is a normal end of a stream.
func isExpectedClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
