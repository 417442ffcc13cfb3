package main

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	sampleRateRF    = 2_400_000
	intermediateFs  = 240_000
	audioRate       = 48_000
	fftSize         = 2048
	dec1Factor      = sampleRateRF / intermediateFs // 10
	dec2Factor      = 5
	deemphasisTau   = 75e-6
	nfmGain         = 15.0
	lsbGain         = 5.0
)

// firFilterC is a real-tapped FIR filter over a complex64 stream whose
// delay line is preserved across Process calls (§4.C stage 1/2).
type firFilterC struct {
	taps  []float32
	delay []complex64
}

func newFIRFilterC(taps []float32) *firFilterC {
	return &firFilterC{taps: taps, delay: make([]complex64, len(taps)-1)}
}

func (f *firFilterC) reset() {
	for i := range f.delay {
		f.delay[i] = 0
	}
}

// process convolves in against the taps, consuming and updating the
// persisted delay line, and returns a same-length output.
func (f *firFilterC) process(in []complex64) []complex64 {
	n := len(f.taps)
	ext := make([]complex64, len(f.delay)+len(in))
	copy(ext, f.delay)
	copy(ext[len(f.delay):], in)

	out := make([]complex64, len(in))
	for i := range in {
		base := len(f.delay) + i
		var acc complex64
		for k := 0; k < n; k++ {
			acc += complex64(complex(f.taps[k], 0)) * ext[base-k]
		}
		out[i] = acc
	}
	copy(f.delay, ext[len(ext)-len(f.delay):])
	return out
}

// firFilterR is the real-valued analogue used for the audio decimation
// stage (§4.C stage 4).
type firFilterR struct {
	taps  []float32
	delay []float32
}

func newFIRFilterR(taps []float32) *firFilterR {
	return &firFilterR{taps: taps, delay: make([]float32, len(taps)-1)}
}

func (f *firFilterR) reset() {
	for i := range f.delay {
		f.delay[i] = 0
	}
}

func (f *firFilterR) process(in []float32) []float32 {
	n := len(f.taps)
	ext := make([]float32, len(f.delay)+len(in))
	copy(ext, f.delay)
	copy(ext[len(f.delay):], in)

	out := make([]float32, len(in))
	for i := range in {
		base := len(f.delay) + i
		var acc float32
		for k := 0; k < n; k++ {
			acc += f.taps[k] * ext[base-k]
		}
		out[i] = acc
	}
	copy(f.delay, ext[len(ext)-len(f.delay):])
	return out
}

// designLowpassFIR builds a windowed-sinc lowpass filter (Hamming
// window, per §4.C "standard FIR design"), normalized to unity DC gain.
func designLowpassFIR(numTaps int, cutoffHz, sampleRate float64) []float32 {
	taps := make([]float32, numTaps)
	fc := cutoffHz / sampleRate
	m := float64(numTaps - 1)
	var sum float64
	for n := 0; n < numTaps; n++ {
		x := float64(n) - m/2
		var h float64
		if x == 0 {
			h = 2 * fc
		} else {
			h = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/m)
		h *= w
		taps[n] = float32(h)
		sum += h
	}
	if sum != 0 {
		for n := range taps {
			taps[n] = float32(float64(taps[n]) / sum)
		}
	}
	return taps
}

func blackmanWindow(n int) []float32 {
	w := make([]float32, n)
	for i := 0; i < n; i++ {
		a0, a1, a2 := 0.42, 0.5, 0.08
		x := 2 * math.Pi * float64(i) / float64(n-1)
		w[i] = float32(a0 - a1*math.Cos(x) + a2*math.Cos(2*x))
	}
	return w
}

// modeFilterSpec is the §4.C stage-2 channel filter table.
type modeFilterSpec struct {
	taps   int
	cutoff float64
}

var modeFilterSpecs = map[Mode]modeFilterSpec{
	ModeFM:  {65, 100_000},
	ModeNFM: {129, 6_250},
	ModeAM:  {129, 5_000},
	ModeUSB: {257, 1_500},
	ModeLSB: {257, 1_500},
}

// DSPEngine is the single-owner, stateful DSP pipeline of §4.C: its
// filter state is only driven by the pipeline's worker (ComputeSpectrum,
// Demodulate, SetMode), matching the "mutable DSP engine state ->
// single-owner worker" design note. SetSquelch, Mode and SignalLevel
// are guarded by mu and are called from other goroutines.
type DSPEngine struct {
	mode             Mode
	squelchThreshold float32

	stage1   *firFilterC
	stage2   map[Mode]*firFilterC
	audioFIR *firFilterR

	prevSample complex64
	deemphZI   float32

	window []float32
	fft    *fourier.CmplxFFT

	specMin float32
	specMax float32

	signalDB float32

	mu sync.Mutex
}

// NewDSPEngine builds the engine with mode-specific channel filters
// pre-designed so set_mode never redesigns taps, only zeroes state.
func NewDSPEngine() *DSPEngine {
	e := &DSPEngine{
		mode:             ModeFM,
		squelchThreshold: -60,
		stage1:           newFIRFilterC(designLowpassFIR(64, 120_000, sampleRateRF)),
		stage2:           make(map[Mode]*firFilterC, len(modeFilterSpecs)),
		audioFIR:         newFIRFilterR(designLowpassFIR(48, 20_000, intermediateFs)),
		window:           blackmanWindow(fftSize),
		fft:              fourier.NewCmplxFFT(fftSize),
		specMin:          -80,
		specMax:          -20,
		signalDB:         -100,
	}
	for m, spec := range modeFilterSpecs {
		e.stage2[m] = newFIRFilterC(designLowpassFIR(spec.taps, spec.cutoff, intermediateFs))
	}
	return e
}

// SetMode atomically zeroes all filter memories and swaps the active
// mode, per §4.C "State reset".
func (e *DSPEngine) SetMode(m Mode) error {
	if !m.valid() {
		return fmt.Errorf("dsp: invalid mode %q", m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stage1.reset()
	for _, f := range e.stage2 {
		f.reset()
	}
	e.audioFIR.reset()
	e.prevSample = 0
	e.deemphZI = 0
	e.mode = m
	return nil
}

// SetSquelch updates the squelch threshold in dBFS.
func (e *DSPEngine) SetSquelch(thresholdDB float32) {
	e.mu.Lock()
	e.squelchThreshold = thresholdDB
	e.mu.Unlock()
}

// Mode returns the active demodulation mode.
func (e *DSPEngine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SignalLevel returns the most recently computed signal level in dBFS
// (§4.C "FFT path" / used by the scanner, §4.E).
func (e *DSPEngine) SignalLevel() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signalDB
}

// bytesToIQ converts an rtl_tcp raw chunk into normalized complex64
// samples (§3 "Raw chunk").
func bytesToIQ(chunk RawChunk) []complex64 {
	n := len(chunk) / 2
	iq := make([]complex64, n)
	for i := 0; i < n; i++ {
		ival := (float32(chunk[2*i]) - 127.5) / 127.5
		qval := (float32(chunk[2*i+1]) - 127.5) / 127.5
		iq[i] = complex(ival, qval)
	}
	return iq
}

// ComputeSpectrum runs the FFT path of §4.C on the last fftSize samples
// of the raw (undecimated) IQ chunk and updates the engine's adaptive
// floor/ceiling and signal level. It does not touch demodulation state.
func (e *DSPEngine) ComputeSpectrum(iq []complex64) (SpectrumFrame, error) {
	n := fftSize
	windowed := make([]complex128, n)
	if len(iq) >= n {
		tail := iq[len(iq)-n:]
		for i, s := range tail {
			windowed[i] = complex(float64(real(s))*float64(e.window[i]), float64(imag(s))*float64(e.window[i]))
		}
	} else {
		for i, s := range iq {
			windowed[i] = complex(float64(real(s))*float64(e.window[i]), float64(imag(s))*float64(e.window[i]))
		}
	}

	coeffs := e.fft.Coefficients(nil, windowed)
	shifted := fftShift(coeffs)

	magDB := make([]float64, n)
	for i, c := range shifted {
		magDB[i] = 20 * math.Log10(cmplx.Abs(c)+1e-12)
	}
	for _, v := range magDB {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SpectrumFrame{}, ErrDSPNaN
		}
	}

	dbfsOffset := 20 * math.Log10(float64(n))
	lo, hi := n*45/100, n*55/100
	center := magDB[lo:hi]
	var maxCenter float64 = -300
	for _, v := range center {
		if v > maxCenter {
			maxCenter = v
		}
	}
	signalDB := maxCenter - dbfsOffset

	curMin := percentile(magDB, 2)
	curMax := percentile(magDB, 99.8) + 10

	e.mu.Lock()
	if curMin < float64(e.specMin) {
		e.specMin += float32(0.3 * (curMin - float64(e.specMin)))
	} else {
		e.specMin += float32(0.05 * (curMin - float64(e.specMin)))
	}
	if curMax > float64(e.specMax) {
		e.specMax += float32(0.3 * (curMax - float64(e.specMax)))
	} else {
		e.specMax += float32(0.05 * (curMax - float64(e.specMax)))
	}
	if e.specMax-e.specMin < 20 {
		mid := (e.specMax + e.specMin) / 2
		e.specMin, e.specMax = mid-10, mid+10
	}
	specMin, specMax := e.specMin, e.specMax
	e.signalDB = float32(signalDB)
	e.mu.Unlock()

	mags := make([]float32, n)
	span := specMax - specMin
	for i, v := range magDB {
		norm := (float32(v) - specMin) / span
		mags[i] = clamp32(norm, 0, 1)
	}

	return SpectrumFrame{
		Magnitudes: mags,
		MinDB:      specMin,
		MaxDB:      specMax,
		SignalDB:   float32(signalDB),
	}, nil
}

func fftShift(coeffs []complex128) []complex128 {
	n := len(coeffs)
	out := make([]complex128, n)
	half := n / 2
	copy(out[:n-half], coeffs[half:])
	copy(out[n-half:], coeffs[:half])
	return out
}

// percentile returns the p-th percentile (0-100) of data: it sorts a
// copy with sort.Float64s and returns the element at index
// floor((len-1)*p/100), without interpolation.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * p / 100.0)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Demodulate runs the full decimation/demod/squelch chain of §4.C
// stages 1-5 on one raw chunk, producing an audio frame at 48kHz. The
// spectrum's most recent signal_db gates squelch; ComputeSpectrum must
// be called on (or before) the same chunk for this to be meaningful.
func (e *DSPEngine) Demodulate(iq []complex64) (AudioFrame, error) {
	e.mu.Lock()
	mode := e.mode
	squelch := e.squelchThreshold
	signalDB := e.signalDB
	e.mu.Unlock()

	dec1Filtered := e.stage1.process(iq)
	n1 := (len(dec1Filtered) / dec1Factor) * dec1Factor
	dec1 := make([]complex64, n1/dec1Factor)
	for i := range dec1 {
		dec1[i] = dec1Filtered[i*dec1Factor]
	}

	e.mu.Lock()
	stage2 := e.stage2[mode]
	e.mu.Unlock()
	channel := stage2.process(dec1)

	var audio []float32
	switch mode {
	case ModeFM:
		audio = e.demodFM(channel, true)
	case ModeNFM:
		audio = e.demodFM(channel, false)
	case ModeAM:
		audio = demodAM(channel)
	case ModeUSB:
		audio = demodUSB(channel)
	case ModeLSB:
		audio = demodLSB(channel)
	default:
		return AudioFrame{}, fmt.Errorf("dsp: unhandled mode %q", mode)
	}

	for _, v := range audio {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return AudioFrame{}, ErrDSPNaN
		}
	}

	audioFiltered := e.audioFIR.process(audio)
	n2 := (len(audioFiltered) / dec2Factor) * dec2Factor
	out := make([]float32, n2/dec2Factor)
	for i := range out {
		out[i] = audioFiltered[i*dec2Factor]
	}

	if signalDB < squelch {
		return AudioFrame{Samples: make([]float32, len(out))}, nil
	}

	var peak float32
	for _, v := range out {
		a := v
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	if peak > 0.001 {
		scale := peak / 0.8
		for i := range out {
			out[i] /= scale
		}
	}

	return AudioFrame{Samples: out}, nil
}

func (e *DSPEngine) demodFM(channel []complex64, wideband bool) []float32 {
	out := make([]float32, len(channel))
	e.mu.Lock()
	prev := e.prevSample
	zi := e.deemphZI
	e.mu.Unlock()

	for i, s := range channel {
		phase := cmplx.Phase(complex128(s) * cmplx.Conj(complex128(prev)))
		out[i] = float32(phase)
		prev = s
	}

	if wideband {
		dt := 1.0 / float64(intermediateFs)
		alpha := float32(dt / (deemphasisTau + dt))
		for i, x := range out {
			zi = alpha*x + (1-alpha)*zi
			out[i] = zi
		}
	} else {
		for i := range out {
			out[i] *= nfmGain
		}
	}

	e.mu.Lock()
	e.prevSample = prev
	e.deemphZI = zi
	e.mu.Unlock()
	return out
}

func demodAM(channel []complex64) []float32 {
	out := make([]float32, len(channel))
	var mean float64
	for i, s := range channel {
		out[i] = float32(cmplx.Abs(complex128(s)))
		mean += float64(out[i])
	}
	if len(channel) > 0 {
		mean /= float64(len(channel))
	}
	for i := range out {
		out[i] -= float32(mean)
	}
	return out
}

func demodUSB(channel []complex64) []float32 {
	out := make([]float32, len(channel))
	for i, s := range channel {
		out[i] = real(s)
	}
	return out
}

func demodLSB(channel []complex64) []float32 {
	out := make([]float32, len(channel))
	for i, s := range channel {
		out[i] = (real(s) + imag(s)) * lsbGain
	}
	return out
}

// sUnitThresholds maps dBFS to an S-unit label, descending (§4.C
// "S-units mapping").
var sUnitThresholds = []struct {
	db    float32
	label string
}{
	{-10, "S9+60"}, {-16, "S9+40"}, {-22, "S9+20"}, {-28, "S9"},
	{-34, "S8"}, {-40, "S7"}, {-46, "S6"}, {-52, "S5"},
	{-58, "S4"}, {-64, "S3"}, {-70, "S2"}, {-76, "S1"},
}

// DBFSToSUnits maps a dBFS signal level to its amateur-radio S-unit
// label.
func DBFSToSUnits(dbfs float32) string {
	for _, t := range sUnitThresholds {
		if dbfs > t.db {
			return t.label
		}
	}
	return "S0"
}
