package main

import (
	"math"
	"testing"
)

func TestComputeSpectrum_MagnitudesInUnitRange(t *testing.T) {
	e := NewDSPEngine()
	iq := make([]complex64, fftSize)
	for i := range iq {
		iq[i] = complex(0.1, -0.05)
	}

	frame, err := e.ComputeSpectrum(iq)
	if err != nil {
		t.Fatalf("ComputeSpectrum: %v", err)
	}
	if len(frame.Magnitudes) != fftSize {
		t.Fatalf("len(magnitudes) = %d, want %d", len(frame.Magnitudes), fftSize)
	}
	for i, m := range frame.Magnitudes {
		if m < 0 || m > 1 {
			t.Fatalf("magnitude[%d] = %v, want in [0,1]", i, m)
		}
	}
}

func TestComputeSpectrum_DCInputPeaksAtCenter(t *testing.T) {
	e := NewDSPEngine()
	iq := make([]complex64, fftSize)
	for i := range iq {
		iq[i] = complex(1, 0) // pure DC tone
	}

	frame, err := e.ComputeSpectrum(iq)
	if err != nil {
		t.Fatalf("ComputeSpectrum: %v", err)
	}

	center := fftSize / 2
	peakIdx := 0
	var peak float32 = -1
	for i, m := range frame.Magnitudes {
		if m > peak {
			peak = m
			peakIdx = i
		}
	}
	if diff := peakIdx - center; diff < -2 || diff > 2 {
		t.Errorf("DC peak at bin %d, want near center bin %d", peakIdx, center)
	}
}

func TestDemodulate_AudioFrameNonEmptyForValidChunk(t *testing.T) {
	e := NewDSPEngine()
	e.SetSquelch(-200) // always open
	iq := make([]complex64, IQSamplesPerChunk)
	for i := range iq {
		iq[i] = complex(float32(math.Cos(float64(i)*0.1)), float32(math.Sin(float64(i)*0.1)))
	}
	e.ComputeSpectrum(iq)
	audio, err := e.Demodulate(iq)
	if err != nil {
		t.Fatalf("Demodulate: %v", err)
	}
	if len(audio.Samples) == 0 {
		t.Fatal("expected non-empty audio frame")
	}
}

func TestDemodulate_SquelchClosedYieldsZeroFrame(t *testing.T) {
	e := NewDSPEngine()
	e.SetSquelch(50) // effectively never open
	iq := make([]complex64, IQSamplesPerChunk)
	for i := range iq {
		iq[i] = complex(0.01, 0.01)
	}
	e.ComputeSpectrum(iq)
	audio, err := e.Demodulate(iq)
	if err != nil {
		t.Fatalf("Demodulate: %v", err)
	}
	for i, s := range audio.Samples {
		if s != 0 {
			t.Fatalf("sample[%d] = %v, want 0 under closed squelch", i, s)
			break
		}
	}
}

func TestSetMode_ResetsFilterState(t *testing.T) {
	e := NewDSPEngine()
	e.SetSquelch(-200)

	impulse := make([]complex64, IQSamplesPerChunk)
	impulse[0] = complex(1, 0)
	e.stage1.process(impulse) // leave energy in the stage-1 delay line

	if err := e.SetMode(ModeAM); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	for i, v := range e.stage1.delay {
		if v != 0 {
			t.Fatalf("stage1 delay[%d] = %v after SetMode, want 0", i, v)
		}
	}
}

func TestSetMode_RejectsInvalidMode(t *testing.T) {
	e := NewDSPEngine()
	if err := e.SetMode("XYZ"); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestDBFSToSUnits_ScaleEnds(t *testing.T) {
	if got := DBFSToSUnits(-5); got != "S9+60" {
		t.Errorf("DBFSToSUnits(-5) = %q, want S9+60", got)
	}
	if got := DBFSToSUnits(-100); got != "S0" {
		t.Errorf("DBFSToSUnits(-100) = %q, want S0", got)
	}
}

func TestFirFilterC_ImpulseResponseMatchesTaps(t *testing.T) {
	taps := []float32{1, 0.5, 0.25}
	f := newFIRFilterC(taps)
	impulse := []complex64{1, 0, 0, 0}
	out := f.process(impulse)
	want := []float32{1, 0.5, 0.25, 0}
	for i, w := range want {
		if real(out[i]) != w {
			t.Errorf("out[%d] = %v, want %v", i, out[i], w)
		}
	}
}
