package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// WAVSource streams samples from a 16-bit mono PCM WAV file. Useful for demo
// runs and tests that need deterministic audio without hardware.
type WAVSource struct {
	f          *os.File
	sampleRate int

	raw []byte

	closeOnce sync.Once
}

// OpenWAVSource opens and validates a 16-bit PCM WAV file.
func OpenWAVSource(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		_ = f.Close()
		return nil, errors.New("not a valid WAV file")
	}

	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	if bitsPerSample != 16 || numChannels != 1 {
		_ = f.Close()
		return nil, fmt.Errorf("unsupported WAV format: channels=%d bits=%d (want mono 16-bit)", numChannels, bitsPerSample)
	}

	return &WAVSource{
		f:          f,
		sampleRate: int(binary.LittleEndian.Uint32(header[24:28])),
	}, nil
}

// SampleRate returns the file's sample rate in Hz.
func (s *WAVSource) SampleRate() int { return s.sampleRate }

// ReadBlock fills buf with float32 samples converted from 16-bit PCM.
func (s *WAVSource) ReadBlock(buf []float32) (int, error) {
	need := len(buf) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	n, err := io.ReadFull(s.f, raw)
	samples := n / 2
	if samples > 0 {
		Float32FromPCM16(raw[:samples*2], buf[:samples])
	}
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if samples > 0 && errors.Is(err, io.EOF) {
			return samples, nil
		}
		return samples, err
	}
	return samples, nil
}

// Close releases the file. Idempotent.
func (s *WAVSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.f.Close()
	})
	return err
}
