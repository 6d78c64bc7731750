package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/codefionn/echochat/internal/envelope"
)

// printer writes envelopes as JSON, one per line, or indented for a
// terminal. Chunk data is replaced by its length.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	indent bool
}

func newPrinter(out io.Writer, indent bool) *printer {
	return &printer{out: out, indent: indent}
}

type chunkSummary struct {
	FileID string `json:"file_id"`
	Index  int    `json:"index"`
	Length int    `json:"ciphertext_length"`
}

func (p *printer) print(env *envelope.Envelope) error {
	shown := *env
	if env.Type == envelope.TypeFileChunk {
		if chunk, err := envelope.DecodePayload[envelope.FileChunkPayload](env); err == nil {
			raw, err := json.Marshal(chunkSummary{FileID: chunk.FileID, Index: chunk.Index, Length: len(chunk.Ciphertext)})
			if err != nil {
				return err
			}
			shown.Payload = raw
		}
	}

	var data []byte
	var err error
	if p.indent {
		data, err = json.MarshalIndent(&shown, "", "  ")
	} else {
		data, err = json.Marshal(&shown)
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.out.Write(append(data, '\n'))
	return err
}
