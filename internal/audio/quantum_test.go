package audio

import "testing"

func TestQuantumProcessor_PassThrough(t *testing.T) {
	var p QuantumProcessor

	in := make([]float32, RenderQuantum)
	for i := range in {
		in[i] = float32(i) / RenderQuantum
	}
	out := make([]float32, RenderQuantum)

	if !p.Process([][]float32{in}, [][]float32{out}) {
		t.Fatal("processor must always keep running")
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestQuantumProcessor_MissingInputIsSilence(t *testing.T) {
	var p QuantumProcessor

	out := make([]float32, RenderQuantum)
	for i := range out {
		out[i] = 0.7 // stale data must be overwritten
	}

	tests := []struct {
		name   string
		inputs [][]float32
	}{
		{"no inputs", nil},
		{"nil channel", [][]float32{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range out {
				out[i] = 0.7
			}
			if !p.Process(tt.inputs, [][]float32{out}) {
				t.Fatal("processor must always keep running")
			}
			for i, s := range out {
				if s != 0 {
					t.Fatalf("sample %d: expected silence, got %v", i, s)
				}
			}
		})
	}
}

func TestQuantumProcessor_ShortInputPadded(t *testing.T) {
	var p QuantumProcessor

	in := []float32{0.1, 0.2, 0.3}
	out := make([]float32, RenderQuantum)
	for i := range out {
		out[i] = 0.9
	}

	p.Process([][]float32{in}, [][]float32{out})

	for i := 0; i < len(in); i++ {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
	for i := len(in); i < RenderQuantum; i++ {
		if out[i] != 0 {
			t.Errorf("sample %d: expected zero padding, got %v", i, out[i])
		}
	}
}

func TestQuantumProcessor_ResizesOutput(t *testing.T) {
	var p QuantumProcessor

	outputs := [][]float32{make([]float32, 16)}
	p.Process([][]float32{make([]float32, RenderQuantum)}, outputs)

	if len(outputs[0]) != RenderQuantum {
		t.Errorf("output channel must be exactly %d samples, got %d", RenderQuantum, len(outputs[0]))
	}
}
