package main

import (
	"encoding/binary"
	"os"
	"sync"
)

// WAVHeader is the standard 44-byte RIFF/WAV header, adapted from the
// teacher's IQ recorder for mono 16-bit PCM audio output (§6
// START_AUDIO_RECORD).
type WAVHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAVRecorder writes demodulated audio as 16-bit PCM mono WAV (§6
// "Recording" / §4.F), clipping each sample to the int16 range.
type WAVRecorder struct {
	mu             sync.Mutex
	file           *os.File
	sampleRate     int
	samplesWritten uint32
}

// NewWAVRecorder creates path and writes a placeholder header, to be
// finalized on Close.
func NewWAVRecorder(path string, sampleRate int) (*WAVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r := &WAVRecorder{file: f, sampleRate: sampleRate}
	if err := r.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *WAVRecorder) writeHeader() error {
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(r.sampleRate),
		ByteRate:      uint32(r.sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}
	return binary.Write(r.file, binary.LittleEndian, &header)
}

// Write appends one audio frame's samples, clipped to int16 range
// (§4.F "WAV writer").
func (r *WAVRecorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	if _, err := r.file.Write(buf); err != nil {
		return err
	}
	r.samplesWritten += uint32(len(samples))
	return nil
}

// Close finalizes the header's size fields and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dataSize := r.samplesWritten * 2
	fileSize := dataSize + 36

	if _, err := r.file.Seek(4, 0); err == nil {
		binary.Write(r.file, binary.LittleEndian, fileSize)
	}
	if _, err := r.file.Seek(40, 0); err == nil {
		binary.Write(r.file, binary.LittleEndian, dataSize)
	}
	return r.file.Close()
}

// IQRecorder writes raw rtl_tcp chunks to disk byte-identical to the
// wire stream (§6 START_IQ_RECORD).
type IQRecorder struct {
	mu   sync.Mutex
	file *os.File
}

// NewIQRecorder creates path for raw IQ passthrough recording.
func NewIQRecorder(path string) (*IQRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &IQRecorder{file: f}, nil
}

// Write appends one raw chunk unmodified.
func (r *IQRecorder) Write(chunk RawChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.file.Write(chunk)
	return err
}

// Close closes the underlying file.
func (r *IQRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
