package audio

import (
	"errors"
	"io"
	"sync"
)

// Source produces mono float32 sample blocks.
type Source interface {
	// ReadBlock fills buf with samples and returns the count read. io.EOF
	// marks the end of the stream (for hardware sources, the underlying
	// track ended).
	ReadBlock(buf []float32) (int, error)
	Close() error
}

// gainStage scales a source's samples before mixing. Display audio defaults
// to 1.0 and the local microphone to 0.0 so the interviewer audio dominates
// without echo.
type gainStage struct {
	source Source
	gain   float64
}

// Mixer merges gained sources through the pass-through quantum processor
// into a single mono stream.
type Mixer struct {
	inputs []gainStage
	proc   QuantumProcessor

	// readMu serializes readers; mu guards only the closed flag so Close
	// never waits behind a blocked source read. Closing the sources is
	// what unblocks an in-flight read.
	readMu sync.Mutex
	mu     sync.Mutex
	closed bool

	sum     []float32
	scratch []float32
	quantum []float32
	pending []float32
}

// NewMixer builds the mixing graph. Sources and gains are paired by index.
func NewMixer(sources []Source, gains []float64) (*Mixer, error) {
	if len(sources) == 0 {
		return nil, errors.New("mixer requires at least one source")
	}
	if len(sources) != len(gains) {
		return nil, errors.New("mixer sources and gains must pair up")
	}
	m := &Mixer{
		sum:     make([]float32, RenderQuantum),
		scratch: make([]float32, RenderQuantum),
		quantum: make([]float32, RenderQuantum),
	}
	for i, src := range sources {
		m.inputs = append(m.inputs, gainStage{source: src, gain: gains[i]})
	}
	return m, nil
}

// ReadBlock fills buf with mixed samples. It returns io.EOF once every
// source has ended; a single source ending early (system share stopped) ends
// the whole stream so the session can tear down.
func (m *Mixer) ReadBlock(buf []float32) (int, error) {
	m.readMu.Lock()
	defer m.readMu.Unlock()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, io.EOF
	}

	filled := 0
	for filled < len(buf) {
		if len(m.pending) == 0 {
			if err := m.renderQuantum(); err != nil {
				if filled > 0 {
					return filled, nil
				}
				return 0, err
			}
		}
		n := copy(buf[filled:], m.pending)
		m.pending = m.pending[n:]
		filled += n
	}
	return filled, nil
}

// renderQuantum pulls one quantum from every input, applies gains, sums, and
// passes the result through the processor.
func (m *Mixer) renderQuantum() error {
	for i := range m.sum {
		m.sum[i] = 0
	}

	for _, in := range m.inputs {
		n, err := in.source.ReadBlock(m.scratch[:RenderQuantum])
		if err != nil {
			return err
		}
		gain := float32(in.gain)
		for i := 0; i < n; i++ {
			m.sum[i] += m.scratch[i] * gain
		}
	}

	m.proc.Process([][]float32{m.sum}, [][]float32{m.quantum})
	m.pending = m.quantum[:RenderQuantum]
	return nil
}

// Close disconnects the graph and closes every source. Idempotent; a failing
// source release does not block releasing the rest.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	inputs := m.inputs
	m.mu.Unlock()

	var firstErr error
	for _, in := range inputs {
		if err := in.source.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
