package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// rtl_tcp command IDs (§4.A).
const (
	cmdSetFreq       byte = 0x01
	cmdSetSampleRate byte = 0x02
	cmdSetGainMode   byte = 0x03
	cmdSetGain       byte = 0x04
	cmdSetAGC        byte = 0x08
)

const (
	connectTimeout = 5 * time.Second

	backoffInitial = 2 * time.Second
	backoffMax     = 30 * time.Second

	defaultSampleRate = 2_400_000
	defaultGainTenths = 400
)

// TunerClient connects to an rtl_tcp server, performs the handshake and
// initial command sequence, and exposes a fixed-size byte reader (§4.A).
type TunerClient struct {
	host string
	port int

	mu         sync.RWMutex
	conn       net.Conn
	connected  bool
	tunerType  TunerType
	gainCount  uint32
	sampleRate uint32
	centerFreq uint64
}

// NewTunerClient creates a client for the given rtl_tcp endpoint.
func NewTunerClient(host string, port int) *TunerClient {
	return &TunerClient{
		host:       host,
		port:       port,
		sampleRate: defaultSampleRate,
	}
}

// Connect dials the tuner, validates the greeting and issues the
// mandatory startup command sequence (§4.A).
func (t *TunerClient) Connect(centerFreq uint64) error {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return fmt.Errorf("rtl_tcp dial %s: %w", addr, err)
	}
	conn.SetReadDeadline(time.Now().Add(connectTimeout))

	greeting := make([]byte, 12)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		conn.Close()
		return &ProtocolError{Msg: fmt.Sprintf("short greeting from %s: %v", addr, err)}
	}
	if string(greeting[0:4]) != "RTL0" {
		conn.Close()
		return &ProtocolError{Msg: fmt.Sprintf("bad magic %q from %s", greeting[0:4], addr)}
	}
	tunerType := TunerType(binary.BigEndian.Uint32(greeting[4:8]))
	gainCount := binary.BigEndian.Uint32(greeting[8:12])

	conn.SetReadDeadline(time.Time{})

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.tunerType = tunerType
	t.gainCount = gainCount
	t.centerFreq = centerFreq
	t.mu.Unlock()

	log.Printf("tuner: connected to %s (type=%s gains=%d)", addr, tunerType, gainCount)

	// Mandatory startup sequence, in order (§4.A).
	if err := t.SetSampleRate(defaultSampleRate); err != nil {
		return err
	}
	if err := t.SetCenterFreq(centerFreq); err != nil {
		return err
	}
	if err := t.sendCommand(cmdSetGainMode, 1); err != nil {
		return err
	}
	if err := t.sendCommand(cmdSetGain, defaultGainTenths); err != nil {
		return err
	}
	return nil
}

// sendCommand writes the fixed 5-byte command frame (§4.A).
func (t *TunerClient) sendCommand(id byte, param uint32) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return &TransientIOError{Msg: "not connected", Err: io.ErrClosedPipe}
	}
	var buf [5]byte
	buf[0] = id
	binary.BigEndian.PutUint32(buf[1:], param)
	if _, err := conn.Write(buf[:]); err != nil {
		t.markDisconnected()
		return &TransientIOError{Msg: "write command", Err: err}
	}
	return nil
}

// SetCenterFreq sends SET_FREQ (§4.A).
func (t *TunerClient) SetCenterFreq(hz uint64) error {
	if err := t.sendCommand(cmdSetFreq, uint32(hz)); err != nil {
		return err
	}
	t.mu.Lock()
	t.centerFreq = hz
	t.mu.Unlock()
	return nil
}

// SetSampleRate sends SET_SAMPLE_RATE.
func (t *TunerClient) SetSampleRate(rate uint32) error {
	if err := t.sendCommand(cmdSetSampleRate, rate); err != nil {
		return err
	}
	t.mu.Lock()
	t.sampleRate = rate
	t.mu.Unlock()
	return nil
}

// SetGainMode sends SET_GAIN_MODE (0=auto, 1=manual).
func (t *TunerClient) SetGainMode(manual bool) error {
	v := uint32(0)
	if manual {
		v = 1
	}
	return t.sendCommand(cmdSetGainMode, v)
}

// SetGain sends SET_GAIN in tenths of a dB.
func (t *TunerClient) SetGain(tenthsDB int) error {
	return t.sendCommand(cmdSetGain, uint32(tenthsDB))
}

// SetAGC sends SET_AGC.
func (t *TunerClient) SetAGC(enabled bool) error {
	v := uint32(0)
	if enabled {
		v = 1
	}
	return t.sendCommand(cmdSetAGC, v)
}

// ReadChunk blocks until exactly ReadSize bytes have been read from the
// tuner's IQ stream. A short read is a ProtocolError and marks the
// client disconnected (§4.A).
func (t *TunerClient) ReadChunk() (RawChunk, error) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return nil, &TransientIOError{Msg: "not connected", Err: io.ErrClosedPipe}
	}

	buf := make([]byte, ReadSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.markDisconnected()
		return nil, &ProtocolError{Msg: fmt.Sprintf("short read: %v", err)}
	}
	return RawChunk(buf), nil
}

func (t *TunerClient) markDisconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.connected = false
}

// Close disconnects the tuner socket.
func (t *TunerClient) Close() {
	t.markDisconnected()
}

// State returns a snapshot of the tuner's connection state (§3).
func (t *TunerClient) State() TunerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TunerState{
		Host:       t.host,
		Port:       t.port,
		Connected:  t.connected,
		TunerType:  t.tunerType,
		GainCount:  t.gainCount,
		SampleRate: t.sampleRate,
		CenterFreq: t.centerFreq,
	}
}

// Connected reports whether the tuner socket is currently open.
func (t *TunerClient) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// NextBackoff doubles d, capped at backoffMax, for reconnect scheduling (§7).
func NextBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		return backoffInitial
	}
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}
