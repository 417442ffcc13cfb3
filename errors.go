package main

import "errors"

// ProtocolError marks a fatal-per-connection rtl_tcp framing violation
// (bad greeting, short read). Triggers reconnect with backoff (§7).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Msg }

// TransientIOError marks a recoverable per-chunk socket error; the
// connection is considered lost but the process continues (§7).
type TransientIOError struct {
	Msg string
	Err error
}

func (e *TransientIOError) Error() string { return "transient io error: " + e.Msg + ": " + e.Err.Error() }
func (e *TransientIOError) Unwrap() error { return e.Err }

// ErrDSPNaN is the §7 DSPError: a per-chunk DSP failure (NaN/Inf in
// output). The chunk is dropped; engine state is left untouched.
var ErrDSPNaN = errors.New("dsp: non-finite output")

// ErrUncorrectable is the §7 DecoderError for a codeword BCH cannot
// correct; decodeBatch skips such a codeword and continues with the
// rest of the batch.
var ErrUncorrectable = errors.New("pocsag: uncorrectable codeword")

// ScannerError marks a failed tune; logged and the scanner returns to
// SCANNING on the next tick (§7).
type ScannerError struct {
	Msg string
	Err error
}

func (e *ScannerError) Error() string { return "scanner error: " + e.Msg + ": " + e.Err.Error() }
func (e *ScannerError) Unwrap() error { return e.Err }

// RecordingError marks a best-effort recording write failure; swallowed
// and logged, recording continues until explicit STOP (§7).
type RecordingError struct {
	Msg string
	Err error
}

func (e *RecordingError) Error() string { return "recording error: " + e.Msg + ": " + e.Err.Error() }
func (e *RecordingError) Unwrap() error { return e.Err }
