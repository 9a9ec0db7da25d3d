package session

import (
	"bufio"
	"context"
	"io"

	"ai-interview-copilot/internal/observability/logging"
)

// RunKeyboard reads key input and toggles the active speaker on space. The
// toggle is ignored outside an active recording session. Blocks until r is
// exhausted or ctx is cancelled.
func RunKeyboard(ctx context.Context, r io.Reader, m *Machine) {
	log := logging.WithComponent("keyboard")
	reader := bufio.NewReader(r)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := reader.ReadByte()
		if err != nil {
			return
		}
		if b != ' ' {
			continue
		}
		speaker, err := m.ToggleSpeaker()
		if err != nil {
			// Not recording; nothing to toggle.
			continue
		}
		log.Debug().Str("speaker", string(speaker)).Msg("Speaker toggled from keyboard")
	}
}
