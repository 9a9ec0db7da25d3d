package audio

// RenderQuantum is the fixed block size, in samples, processed per callback
// in the mixing stage.
const RenderQuantum = 128

// QuantumProcessor is the pass-through stage at the end of the mixing graph.
// For each render quantum, each output channel is set to the corresponding
// input channel verbatim when present, otherwise left silent. It never fails
// and never stalls the graph regardless of upstream channel count.
type QuantumProcessor struct{}

// Process fills each output channel from the matching input channel. Output
// channels are always exactly RenderQuantum samples; shorter or longer inputs
// are copied up to the quantum boundary and the remainder silenced. The
// return value is the keep-processing signal and is always true.
func (QuantumProcessor) Process(inputs [][]float32, outputs [][]float32) bool {
	for ch := range outputs {
		out := outputs[ch]
		if len(out) != RenderQuantum {
			if cap(out) >= RenderQuantum {
				out = out[:RenderQuantum]
			} else {
				out = make([]float32, RenderQuantum)
			}
			outputs[ch] = out
		}

		if ch >= len(inputs) || inputs[ch] == nil {
			for i := range out {
				out[i] = 0
			}
			continue
		}

		in := inputs[ch]
		n := copy(out, in)
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
	}
	return true
}
