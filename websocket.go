package main

import (
	"encoding/binary"
	"encoding/json"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

const (
	frameTagSpectrum byte = 0x01
	frameTagAudio    byte = 0x02
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   65536,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// EventType discriminates the JSON envelopes pushed to subscribers (§6
// "Server -> client events").
type EventType string

const (
	EventState             EventType = "STATE"
	EventStreamState       EventType = "STREAM_STATE"
	EventModeChanged       EventType = "MODE_CHANGED"
	EventSquelchChanged    EventType = "SQUELCH_CHANGED"
	EventFreqChanged       EventType = "FREQ_CHANGED"
	EventSignalLevel       EventType = "SIGNAL_LEVEL"
	EventScanStatus        EventType = "SCAN_STATUS"
	EventPocsag            EventType = "POCSAG"
	EventConnectionChanged EventType = "CONNECTION_CHANGED"
	EventRecordStatus      EventType = "RECORD_STATUS"
	EventError             EventType = "ERROR"
)

// ServerEnvelope is the single JSON shape used for every server-pushed
// event, discriminated by Type (§6), mirroring the teacher's
// ServerMessage pattern.
type ServerEnvelope struct {
	Type  EventType   `json:"type"`
	Tuner *TunerState `json:"tuner,omitempty"`
	Mode  string      `json:"mode,omitempty"`
	// Squelch and SignalDB are pointers so a legitimate 0dB/0dBFS value
	// serializes as present, rather than vanishing under omitempty
	// indistinguishably from "not set" (teacher pattern: ServerMessage's
	// SquelchOpen/SquelchClose fields in websocket.go).
	Squelch   *float32       `json:"squelch,omitempty"`
	Freq      uint64         `json:"freq,omitempty"` // 0Hz is never a real center frequency, so omitempty is unambiguous here
	SignalDB  *float32       `json:"signal_db,omitempty"`
	SUnits    string         `json:"s_units,omitempty"`
	Scan      *ScanStatus    `json:"scan,omitempty"`
	Pocsag    *POCSAGMessage `json:"pocsag,omitempty"`
	Connected bool           `json:"connected"`
	Streaming bool           `json:"streaming"`
	Recording bool           `json:"recording"`
	Kind      string         `json:"kind,omitempty"` // "iq" or "audio", for RECORD_STATUS
	Error     string         `json:"error,omitempty"`
}

// ClientCommand is the single JSON shape accepted from subscribers,
// discriminated by Type (§6 "Client -> server commands").
type ClientCommand struct {
	Type     string  `json:"type"`
	Mode     string  `json:"mode,omitempty"`
	Squelch  float32 `json:"squelch,omitempty"`
	Freq     uint64  `json:"freq,omitempty"`
	Gain     int     `json:"gain,omitempty"`
	Enabled  bool    `json:"enabled,omitempty"`
	Category string  `json:"category,omitempty"`
	Start    uint64  `json:"start,omitempty"`
	End      uint64  `json:"end,omitempty"`
	Step     uint64  `json:"step,omitempty"`
	DwellMS  int     `json:"dwell_ms,omitempty"`
	DelaySec float64 `json:"delay_sec,omitempty"`
	Path     string  `json:"path,omitempty"`
}

// subscriber is one websocket client: a write-mutex-guarded connection,
// a per-connection command rate limiter (§11 domain stack,
// golang.org/x/time/rate), and a streaming toggle.
type subscriber struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	limiter   *rate.Limiter
	streaming bool
	zstdW     *zstd.Encoder
}

func (s *subscriber) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) writeBinary(tag byte, samples []float32, compress bool) error {
	buf := make([]byte, 1+4*len(samples))
	buf[0] = tag
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[1+4*i:], math.Float32bits(v))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	if !compress {
		return s.conn.WriteMessage(websocket.BinaryMessage, buf)
	}
	if s.zstdW == nil {
		w, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return s.conn.WriteMessage(websocket.BinaryMessage, buf)
		}
		s.zstdW = w
	}
	compressed := s.zstdW.EncodeAll(buf, nil)
	return s.conn.WriteMessage(websocket.BinaryMessage, compressed)
}

// Server is the websocket front end fanning pipeline frames out to
// subscribers and dispatching their commands into the tuner, DSP
// engine, scanner and pipeline (§6).
type Server struct {
	cfg      *Config
	tuner    *TunerClient
	dsp      *DSPEngine
	scanner  *Scanner
	pipeline *Pipeline

	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewServer wires a Server to its collaborators.
func NewServer(cfg *Config, tuner *TunerClient, dsp *DSPEngine, scanner *Scanner, pipeline *Pipeline) *Server {
	return &Server{
		cfg:      cfg,
		tuner:    tuner,
		dsp:      dsp,
		scanner:  scanner,
		pipeline: pipeline,
		subs:     make(map[string]*subscriber),
	}
}

// HandleWebSocket upgrades the connection and runs its read loop.
func (srv *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade: %v", err)
		return
	}

	sub := &subscriber{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(srv.cfg.Server.CmdRateLimit), srv.cfg.Server.CmdBurst),
	}

	srv.mu.Lock()
	srv.subs[sub.id] = sub
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.subs, sub.id)
		srv.mu.Unlock()
		conn.Close()
	}()

	sub.writeJSON(ServerEnvelope{Type: EventState, Tuner: tunerStatePtr(srv.tuner.State())})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !sub.limiter.Allow() {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: "rate limited"})
			continue
		}
		var cmd ClientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: "bad command"})
			continue
		}
		srv.handleCommand(sub, cmd)
	}
}

func tunerStatePtr(s TunerState) *TunerState { return &s }

// handleCommand dispatches one decoded client command (§6).
func (srv *Server) handleCommand(sub *subscriber, cmd ClientCommand) {
	switch cmd.Type {
	case "START_STREAM":
		sub.streaming = true
		sub.writeJSON(ServerEnvelope{Type: EventStreamState, Streaming: true})
	case "STOP_STREAM":
		sub.streaming = false
		sub.writeJSON(ServerEnvelope{Type: EventStreamState, Streaming: false})

	case "SET_MODE":
		// Mode changes are routed through the pipeline's processor
		// worker rather than touching the DSP engine from this
		// goroutine (§5: the engine has a single owner).
		if err := srv.pipeline.RequestMode(Mode(cmd.Mode)); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventModeChanged, Mode: cmd.Mode})

	case "SET_SQUELCH":
		srv.dsp.SetSquelch(cmd.Squelch)
		srv.scanner.SetSquelch(cmd.Squelch)
		srv.broadcast(ServerEnvelope{Type: EventSquelchChanged, Squelch: &cmd.Squelch})

	case "SET_FREQ":
		if err := srv.tuner.SetCenterFreq(cmd.Freq); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventFreqChanged, Freq: cmd.Freq})

	case "SET_GAIN":
		if err := srv.tuner.SetGain(cmd.Gain); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
		}

	case "SET_AGC":
		if err := srv.tuner.SetAGC(cmd.Enabled); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
		}

	case "START_SCAN":
		if err := srv.scanner.StartBookmarkScan(srv.cfg.Bookmarks, cmd.Category); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventScanStatus, Scan: statusPtr(srv.scanner.Status())})

	case "START_RANGE_SCAN":
		if err := srv.scanner.StartRangeScan(cmd.Start, cmd.End, cmd.Step, Mode(cmd.Mode)); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventScanStatus, Scan: statusPtr(srv.scanner.Status())})

	case "STOP_SCAN":
		srv.scanner.Stop()
		srv.broadcast(ServerEnvelope{Type: EventScanStatus, Scan: statusPtr(srv.scanner.Status())})

	case "SKIP_SCAN":
		srv.scanner.Skip()

	case "SET_SCAN_SPEED":
		srv.scanner.SetDwell(cmd.DwellMS)

	case "SET_SCAN_DELAY":
		srv.scanner.SetResumeDelay(cmd.DelaySec)

	case "TOGGLE_POCSAG":
		srv.pipeline.SetPocsagEnabled(cmd.Enabled)

	case "START_IQ_RECORD":
		if err := srv.pipeline.StartIQRecording(cmd.Path); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventRecordStatus, Kind: "iq", Recording: true})

	case "STOP_IQ_RECORD":
		srv.pipeline.StopIQRecording()
		srv.broadcast(ServerEnvelope{Type: EventRecordStatus, Kind: "iq", Recording: false})

	case "START_AUDIO_RECORD":
		if err := srv.pipeline.StartAudioRecording(cmd.Path); err != nil {
			sub.writeJSON(ServerEnvelope{Type: EventError, Error: err.Error()})
			return
		}
		srv.broadcast(ServerEnvelope{Type: EventRecordStatus, Kind: "audio", Recording: true})

	case "STOP_AUDIO_RECORD":
		srv.pipeline.StopAudioRecording()
		srv.broadcast(ServerEnvelope{Type: EventRecordStatus, Kind: "audio", Recording: false})

	default:
		sub.writeJSON(ServerEnvelope{Type: EventError, Error: "unknown command: " + cmd.Type})
	}
}

func statusPtr(s ScanStatus) *ScanStatus { return &s }

// broadcast pushes an envelope to every connected subscriber.
func (srv *Server) broadcast(env ServerEnvelope) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	for _, sub := range srv.subs {
		sub.writeJSON(env)
	}
}

// BroadcastFrame pushes one pipeline frame to every streaming
// subscriber as binary tagged payloads plus any JSON side-events
// (§6 "Spectrum/audio frames", §4.F processor output).
func (srv *Server) BroadcastFrame(frame PipelineFrame) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()

	for _, sub := range srv.subs {
		if !sub.streaming {
			continue
		}
		if err := sub.writeBinary(frameTagSpectrum, frame.Spectrum.Magnitudes, srv.cfg.Server.CompressFrames); err != nil {
			continue
		}
		sub.writeBinary(frameTagAudio, frame.Audio.Samples, srv.cfg.Server.CompressFrames)
		if frame.SignalUpdate {
			signalDB := frame.SignalDB
			sub.writeJSON(ServerEnvelope{
				Type:     EventSignalLevel,
				SignalDB: &signalDB,
				SUnits:   DBFSToSUnits(frame.SignalDB),
			})
		}
		for i := range frame.Pocsag {
			sub.writeJSON(ServerEnvelope{Type: EventPocsag, Pocsag: &frame.Pocsag[i]})
		}
	}
}

// BroadcastConnection pushes a CONNECTION_CHANGED event (§6, pipeline's
// connection supervisor hook).
func (srv *Server) BroadcastConnection(connected bool, state TunerState) {
	srv.broadcast(ServerEnvelope{Type: EventConnectionChanged, Connected: connected, Tuner: &state})
}

// BroadcastScanStatus pushes a SCAN_STATUS event (scanner's OnStatus hook).
func (srv *Server) BroadcastScanStatus(status ScanStatus) {
	srv.broadcast(ServerEnvelope{Type: EventScanStatus, Scan: &status})
}
