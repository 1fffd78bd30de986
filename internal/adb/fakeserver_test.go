package adb

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const wait = 3 * time.Second

func appendDevices(b []byte, devices []RawDevice) []byte {
	for _, d := range devices {
		var m []byte
		for _, f := range []struct {
			num protowire.Number
			val string
		}{
			{fieldSerial, d.Serial},
			{fieldBusAddress, d.BusAddress},
			{fieldProduct, d.Product},
			{fieldModel, d.Model},
			{fieldDevice, d.Device},
		} {
			m = protowire.AppendTag(m, f.num, protowire.BytesType)
			m = protowire.AppendString(m, f.val)
		}
		m = protowire.AppendTag(m, fieldState, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(d.State))
		var ct uint64
		switch d.Type {
		case USB:
			ct = 1
		case TCP:
			ct = 2
		}
		m = protowire.AppendTag(m, fieldConnType, protowire.VarintType)
		m = protowire.AppendVarint(m, ct)
		m = protowire.AppendTag(m, fieldTransportID, protowire.VarintType)
		m = protowire.AppendVarint(m, d.TransportID)

		b = protowire.AppendTag(b, fieldDevicesDevice, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

// shellFunc serves one shell command. It returns false to fall through to
// the default handling.
type shellFunc func(serial, command string, conn net.Conn) bool

// fakeServer speaks enough of the ADB host protocol for the client tests.
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	trackers []net.Conn
	snapshot []byte
	serials  map[string]bool
	props    map[string]map[string]string
	files    map[string][]byte
	sends    int
	commands []string
	shell    shellFunc
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		t:       t,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
		serials: make(map[string]bool),
		props:   make(map[string]map[string]string),
		files:   make(map[string][]byte),
	}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) config() Config {
	cfg := DefaultConfig()
	cfg.Dial.Host = "127.0.0.1"
	cfg.Dial.Port = s.ln.Addr().(*net.TCPAddr).Port
	cfg.Dial.ReadTimeout = 2 * time.Second
	cfg.ReconnectInterval = 50 * time.Millisecond
	cfg.ProbeInterval = 50 * time.Millisecond
	cfg.ProbeTimeout = 300 * time.Millisecond
	cfg.StopGrace = 50 * time.Millisecond
	return cfg
}

func (s *fakeServer) setProp(serial, prop, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials[serial] = true
	if s.props[serial] == nil {
		s.props[serial] = make(map[string]string)
	}
	s.props[serial][prop] = value
}

func (s *fakeServer) addSerial(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serials[serial] = true
}

func (s *fakeServer) setShell(fn shellFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shell = fn
}

// pushDevices sends a snapshot to every tracking connection and to those
// opened later.
func (s *fakeServer) pushDevices(devices ...RawDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range devices {
		s.serials[d.Serial] = true
	}
	s.snapshot = appendDevices([]byte{}, devices)
	for _, c := range s.trackers {
		writeHex4Prefixed(c, s.snapshot)
	}
}

// dropTrackers closes every tracking connection, as a restarting server would.
func (s *fakeServer) dropTrackers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.trackers {
		c.Close()
	}
	s.trackers = nil
}

func (s *fakeServer) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *fakeServer) sawCommand(match func(string) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		if match(c) {
			return true
		}
	}
	return false
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeServer) close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	serial := ""
	for {
		n, err := readHex4(conn)
		if err != nil {
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		cmd := string(buf)
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		switch {
		case cmd == "host:track-devices-proto-binary":
			s.mu.Lock()
			io.WriteString(conn, statusOkay)
			s.trackers = append(s.trackers, conn)
			if s.snapshot != nil {
				writeHex4Prefixed(conn, s.snapshot)
			}
			s.mu.Unlock()
			io.Copy(io.Discard, conn)
			return
		case strings.HasPrefix(cmd, "host:transport:"):
			serial = strings.TrimPrefix(cmd, "host:transport:")
			s.mu.Lock()
			known := s.serials[serial]
			s.mu.Unlock()
			if !known {
				io.WriteString(conn, statusFail)
				writeHex4Prefixed(conn, []byte("device '"+serial+"' not found"))
				return
			}
			io.WriteString(conn, statusOkay)
		case strings.HasPrefix(cmd, "shell:command "):
			io.WriteString(conn, statusOkay)
			s.runShell(serial, strings.TrimPrefix(cmd, "shell:command "), conn)
			return
		case cmd == "sync:":
			io.WriteString(conn, statusOkay)
			s.runSync(conn)
			return
		default:
			io.WriteString(conn, statusFail)
			return
		}
	}
}

func (s *fakeServer) runShell(serial, command string, conn net.Conn) {
	s.mu.Lock()
	fn := s.shell
	s.mu.Unlock()
	if fn != nil && fn(serial, command, conn) {
		return
	}
	if prop, ok := strings.CutPrefix(command, `"getprop" "`); ok {
		prop = strings.TrimSuffix(prop, `"`)
		s.mu.Lock()
		v := s.props[serial][prop]
		s.mu.Unlock()
		io.WriteString(conn, v+"\n")
	}
}

func (s *fakeServer) runSync(conn net.Conn) {
	le := binary.LittleEndian
	for {
		tag, n, err := readSyncHeader(conn)
		if err != nil {
			return
		}
		switch tag {
		case tagStat:
			path := make([]byte, n)
			io.ReadFull(conn, path)
			s.mu.Lock()
			data, ok := s.files[string(path)]
			s.mu.Unlock()
			reply := []byte(tagStat)
			if ok {
				reply = le.AppendUint32(reply, 0o100777)
				reply = le.AppendUint32(reply, uint32(len(data)))
				reply = le.AppendUint32(reply, 1700000000)
			} else {
				reply = append(reply, make([]byte, 12)...)
			}
			conn.Write(reply)
		case tagSend:
			target := make([]byte, n)
			io.ReadFull(conn, target)
			path := string(target[:strings.LastIndexByte(string(target), ',')])
			var data []byte
			for {
				tag, n, err := readSyncHeader(conn)
				if err != nil {
					return
				}
				if tag == tagDone {
					break
				}
				chunk := make([]byte, n)
				io.ReadFull(conn, chunk)
				data = append(data, chunk...)
			}
			s.mu.Lock()
			s.files[path] = data
			s.sends++
			s.mu.Unlock()
			writeSyncHeader(conn, statusOkay, 0)
		case tagQuit:
			return
		default:
			return
		}
	}
}
