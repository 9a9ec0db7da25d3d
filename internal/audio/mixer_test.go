package audio

import (
	"errors"
	"io"
	"math"
	"testing"
)

// constantSource produces a fixed sample value for a bounded number of
// samples, then io.EOF.
type constantSource struct {
	value     float32
	remaining int
	closed    bool
}

func (s *constantSource) ReadBlock(buf []float32) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	n := len(buf)
	if n > s.remaining {
		n = s.remaining
	}
	for i := 0; i < n; i++ {
		buf[i] = s.value
	}
	s.remaining -= n
	return n, nil
}

func (s *constantSource) Close() error {
	s.closed = true
	return nil
}

func TestNewMixer_Validation(t *testing.T) {
	if _, err := NewMixer(nil, nil); err == nil {
		t.Error("expected error for zero sources")
	}
	if _, err := NewMixer([]Source{&constantSource{}}, []float64{1.0, 0.5}); err == nil {
		t.Error("expected error for mismatched sources and gains")
	}
}

func TestMixer_AppliesGains(t *testing.T) {
	display := &constantSource{value: 0.5, remaining: RenderQuantum * 4}
	mic := &constantSource{value: 0.5, remaining: RenderQuantum * 4}

	m, err := NewMixer([]Source{display, mic}, []float64{1.0, 0.0})
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]float32, RenderQuantum)
	n, err := m.ReadBlock(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != RenderQuantum {
		t.Fatalf("expected full block, got %d", n)
	}
	// Display at unity gain, mic muted: output equals display alone.
	for i, s := range buf {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.5", i, s)
		}
	}
}

func TestMixer_SumsSources(t *testing.T) {
	a := &constantSource{value: 0.25, remaining: RenderQuantum}
	b := &constantSource{value: 0.25, remaining: RenderQuantum}

	m, err := NewMixer([]Source{a, b}, []float64{1.0, 1.0})
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]float32, RenderQuantum)
	if _, err := m.ReadBlock(buf); err != nil {
		t.Fatal(err)
	}
	for i, s := range buf {
		if math.Abs(float64(s-0.5)) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.5", i, s)
		}
	}
}

func TestMixer_ReadAcrossQuantumBoundary(t *testing.T) {
	src := &constantSource{value: 0.1, remaining: RenderQuantum * 8}
	m, err := NewMixer([]Source{src}, []float64{1.0})
	if err != nil {
		t.Fatal(err)
	}

	// A block size that is not a multiple of the quantum.
	buf := make([]float32, RenderQuantum+RenderQuantum/2)
	n, err := m.ReadBlock(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("expected %d samples, got %d", len(buf), n)
	}
}

func TestMixer_EOFWhenAnySourceEnds(t *testing.T) {
	long := &constantSource{value: 0.1, remaining: RenderQuantum * 10}
	short := &constantSource{value: 0.1, remaining: 0}

	m, err := NewMixer([]Source{long, short}, []float64{1.0, 1.0})
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]float32, RenderQuantum)
	if _, err := m.ReadBlock(buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF when a source ends, got %v", err)
	}
}

func TestMixer_CloseIdempotentAndClosesSources(t *testing.T) {
	a := &constantSource{remaining: RenderQuantum}
	b := &constantSource{remaining: RenderQuantum}

	m, err := NewMixer([]Source{a, b}, []float64{1.0, 1.0})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Error("Close must close every source")
	}

	buf := make([]float32, RenderQuantum)
	if _, err := m.ReadBlock(buf); !errors.Is(err, io.EOF) {
		t.Errorf("reads after Close must return io.EOF, got %v", err)
	}
}
