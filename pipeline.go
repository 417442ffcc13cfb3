package main

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const iqQueueCapacity = 20

// PipelineFrame is one processed output unit emitted to subscribers:
// a spectrum frame always, an audio frame always, and a signal-level
// update on every 10th chunk (§4.F "Processor task").
type PipelineFrame struct {
	Spectrum     SpectrumFrame
	Audio        AudioFrame
	SignalUpdate bool
	SignalDB     float32
	Pocsag       []POCSAGMessage
}

// PipelineHooks lets the server observe pipeline output and connection
// state transitions without the pipeline importing the websocket layer.
type PipelineHooks struct {
	OnFrame      func(PipelineFrame)
	OnConnection func(connected bool, state TunerState)
}

// Pipeline is the orchestrator of §4.F: a reader task pulling fixed
// chunks off the tuner into the bounded IQ queue, a processor task
// running DSP/decoder work on one worker, and a connection supervisor
// owning the tuner's connect/backoff loop.
type Pipeline struct {
	tuner   *TunerClient
	queue   *IQQueue
	dsp     *DSPEngine
	pocsag  *PocsagDecoder
	hooks   PipelineHooks
	metrics *Metrics

	recMu    sync.Mutex
	iqRec    *IQRecorder
	audioRec *WAVRecorder
	pocsagOn bool

	centerFreq uint64

	// modeCh carries pending mode changes into the processor worker,
	// which is the engine's sole owner (§5: "Mode switches are messages
	// into the worker; callers never touch the engine from other
	// threads"). Buffered 1 and always drained-then-refilled so only the
	// latest requested mode survives.
	modeCh chan Mode

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipeline wires the tuner, queue, DSP engine and decoder together.
// metrics may be nil, in which case observations are skipped.
func NewPipeline(tuner *TunerClient, dsp *DSPEngine, pocsag *PocsagDecoder, metrics *Metrics, hooks PipelineHooks, centerFreq uint64) *Pipeline {
	return &Pipeline{
		tuner:      tuner,
		queue:      NewIQQueue(iqQueueCapacity),
		dsp:        dsp,
		pocsag:     pocsag,
		metrics:    metrics,
		hooks:      hooks,
		pocsagOn:   true,
		centerFreq: centerFreq,
		modeCh:     make(chan Mode, 1),
	}
}

// requestModeChange enqueues mode for the processor worker to apply at
// the next chunk boundary, replacing any not-yet-applied request.
func (p *Pipeline) requestModeChange(mode Mode) {
	select {
	case <-p.modeCh:
	default:
	}
	p.modeCh <- mode
}

// RequestMode validates mode and queues it for the processor worker,
// per §5's worker-owns-the-engine contract. Used by callers outside the
// pipeline (scanner, websocket command handler) instead of reaching
// into the DSP engine directly.
func (p *Pipeline) RequestMode(mode Mode) error {
	if !mode.valid() {
		return fmt.Errorf("dsp: invalid mode %q", mode)
	}
	p.requestModeChange(mode)
	return nil
}

// Start launches the reader, processor and connection supervisor tasks.
func (p *Pipeline) Start() {
	p.stopCh = make(chan struct{})
	p.wg.Add(3)
	go p.connectionSupervisor()
	go p.readerTask()
	go p.processorTask()
}

// Stop cancels all pipeline tasks and waits for them to exit.
func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.queue.Close()
	p.tuner.Close()
	p.wg.Wait()
}

// Retune changes the tuner's center frequency and drains the IQ queue
// so the next spectrum/signal measurement reflects the new frequency
// (§5 ordering guarantee; also the scanner's OnTune hook).
func (p *Pipeline) Retune(freq uint64, mode Mode) error {
	if !mode.valid() {
		return &ScannerError{Msg: "set mode on retune", Err: fmt.Errorf("dsp: invalid mode %q", mode)}
	}

	p.recMu.Lock()
	p.centerFreq = freq
	p.recMu.Unlock()

	if err := p.tuner.SetCenterFreq(freq); err != nil {
		return &ScannerError{Msg: "retune", Err: err}
	}
	p.requestModeChange(mode)
	p.queue.Drain()
	return nil
}

// connectionSupervisor owns the tuner connect/backoff loop, per §4.F
// "Connection supervisor task" and §7's reconnect-with-backoff contract.
func (p *Pipeline) connectionSupervisor() {
	defer p.wg.Done()
	backoff := time.Duration(0)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.tuner.Connected() {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		err := p.tuner.Connect(p.centerFreq)
		state := p.tuner.State()
		if p.hooks.OnConnection != nil {
			p.hooks.OnConnection(state.Connected, state)
		}
		if p.metrics != nil {
			p.metrics.ObserveConnection(state.Connected)
		}
		if err != nil {
			log.Printf("pipeline: tuner connect failed: %v", err)
			backoff = NextBackoff(backoff)
			select {
			case <-p.stopCh:
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		// Re-apply the active mode to reset filter memory left over
		// from before the disconnect; queued like any other mode
		// change so only the processor worker ever touches the engine.
		p.requestModeChange(p.dsp.Mode())
	}
}

// readerTask blocks on ReadChunk, forwards to the bounded queue with
// drop-newest-on-full semantics, and yields to the supervisor on error
// (§4.F "Reader task").
func (p *Pipeline) readerTask() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if !p.tuner.Connected() {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		chunk, err := p.tuner.ReadChunk()
		if err != nil {
			log.Printf("pipeline: reader: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if p.metrics != nil {
			p.metrics.chunksRead.Inc()
		}

		if !p.queue.TryPush(chunk) && p.metrics != nil {
			p.metrics.ObserveQueueDrop()
		}
	}
}

// processorTask pops chunks, runs the DSP/decoder work on a single
// worker (never concurrently, per the DSP engine's single-owner
// contract), and emits one PipelineFrame per chunk (§4.F "Processor
// task").
func (p *Pipeline) processorTask() {
	defer p.wg.Done()
	var chunkCount uint64

	for {
		chunk, ok := p.queue.Pop()
		if !ok {
			return
		}
		chunkCount++

		select {
		case mode := <-p.modeCh:
			if err := p.dsp.SetMode(mode); err != nil {
				log.Printf("pipeline: apply pending mode %q: %v", mode, err)
			}
		default:
		}

		p.recMu.Lock()
		if p.iqRec != nil {
			if err := p.iqRec.Write(chunk); err != nil {
				log.Printf("pipeline: iq record: %v", err)
			}
		}
		p.recMu.Unlock()

		iq := bytesToIQ(chunk)

		spectrum, err := p.dsp.ComputeSpectrum(iq)
		if err != nil {
			log.Printf("pipeline: spectrum: %v", err)
			if p.metrics != nil {
				p.metrics.dspErrors.Inc()
			}
			continue
		}

		audio, err := p.dsp.Demodulate(iq)
		if err != nil {
			log.Printf("pipeline: demodulate: %v", err)
			if p.metrics != nil {
				p.metrics.dspErrors.Inc()
			}
			continue
		}

		p.recMu.Lock()
		if p.audioRec != nil {
			if err := p.audioRec.Write(audio.Samples); err != nil {
				log.Printf("pipeline: audio record: %v", err)
			}
		}
		recordPocsag := p.pocsagOn
		p.recMu.Unlock()

		var msgs []POCSAGMessage
		if recordPocsag {
			msgs = p.pocsag.ProcessAudio(audio.Samples, time.Now())
		}

		frame := PipelineFrame{
			Spectrum: spectrum,
			Audio:    audio,
			Pocsag:   msgs,
		}
		if chunkCount%10 == 0 {
			frame.SignalUpdate = true
			frame.SignalDB = spectrum.SignalDB
		}

		if p.metrics != nil {
			p.metrics.ObserveFrame(frame)
		}
		if p.hooks.OnFrame != nil {
			p.hooks.OnFrame(frame)
		}
	}
}

// SetPocsagEnabled toggles POCSAG decoding (§6 TOGGLE_POCSAG command).
func (p *Pipeline) SetPocsagEnabled(enabled bool) {
	p.recMu.Lock()
	p.pocsagOn = enabled
	p.recMu.Unlock()
}

// StartIQRecording begins writing raw IQ chunks to path (§6 START_IQ_RECORD).
func (p *Pipeline) StartIQRecording(path string) error {
	rec, err := NewIQRecorder(path)
	if err != nil {
		return &RecordingError{Msg: "start iq recording", Err: err}
	}
	p.recMu.Lock()
	p.iqRec = rec
	p.recMu.Unlock()
	return nil
}

// StopIQRecording closes the IQ recorder, if any (§6 STOP_IQ_RECORD).
func (p *Pipeline) StopIQRecording() error {
	p.recMu.Lock()
	rec := p.iqRec
	p.iqRec = nil
	p.recMu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Close()
}

// StartAudioRecording begins writing demodulated audio to a WAV file at
// path (§6 START_AUDIO_RECORD).
func (p *Pipeline) StartAudioRecording(path string) error {
	rec, err := NewWAVRecorder(path, audioRate)
	if err != nil {
		return &RecordingError{Msg: "start audio recording", Err: err}
	}
	p.recMu.Lock()
	p.audioRec = rec
	p.recMu.Unlock()
	return nil
}

// StopAudioRecording closes the WAV recorder, if any (§6 STOP_AUDIO_RECORD).
func (p *Pipeline) StopAudioRecording() error {
	p.recMu.Lock()
	rec := p.audioRec
	p.audioRec = nil
	p.recMu.Unlock()
	if rec == nil {
		return nil
	}
	return rec.Close()
}
