package transfer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/echochat/internal/envelope"
)

var (
	// ErrUnknownTransfer is returned for a chunk or end without a start.
	ErrUnknownTransfer = errors.New("unknown file transfer")
	// ErrIncomplete is returned when FILE_END arrives with chunks missing.
	ErrIncomplete = errors.New("file transfer incomplete")
	// ErrDigestMismatch is returned when the reassembled bytes do not hash
	// to the announced sha256.
	ErrDigestMismatch = errors.New("file digest mismatch")
	// ErrTooLarge is returned for a FILE_START above the assembler limit,
	// and for chunks that would grow a file past its announced size.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrWrongSender is returned for a FILE_* envelope about a transfer
	// that another client started.
	ErrWrongSender = errors.New("file transfer belongs to another sender")
	// ErrBadChunk is returned for an empty chunk or an index that cannot
	// belong to the announced size.
	ErrBadChunk = errors.New("invalid file chunk")
)

// File is a reassembled transfer.
type File struct {
	FileID string
	From   string
	Name   string
	Mode   string
	SHA256 string
	Data   []byte
}

type pending struct {
	start    envelope.FileStartPayload
	from     string
	chunks   map[int][]byte
	buffered int64
}

// Assembler rebuilds files from inbound FILE_* envelopes. It is safe for
// concurrent use.
type Assembler struct {
	sealer  Sealer
	maxSize int64

	mu    sync.Mutex
	files map[string]*pending
}

// NewAssembler returns an assembler opening chunks with sealer (Plaintext
// when nil) and rejecting files larger than maxSize bytes (no limit when
// maxSize <= 0).
func NewAssembler(sealer Sealer, maxSize int64) *Assembler {
	if sealer == nil {
		sealer = Plaintext
	}
	return &Assembler{
		sealer:  sealer,
		maxSize: maxSize,
		files:   make(map[string]*pending),
	}
}

// Handle consumes one envelope. It returns the file when env is the
// FILE_END of a complete transfer, and nil for every other envelope.
// Envelopes of other types are ignored.
func (a *Assembler) Handle(env *envelope.Envelope) (*File, error) {
	switch env.Type {
	case envelope.TypeFileStart:
		return nil, a.start(env)
	case envelope.TypeFileChunk:
		return nil, a.chunk(env)
	case envelope.TypeFileEnd:
		return a.end(env)
	default:
		return nil, nil
	}
}

// Pending returns the number of transfers still waiting for FILE_END.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

func (a *Assembler) start(env *envelope.Envelope) error {
	p, err := envelope.DecodePayload[envelope.FileStartPayload](env)
	if err != nil {
		return err
	}
	if p.FileID == "" {
		return errors.New("FILE_START without file_id")
	}
	if p.Size < 0 || (a.maxSize > 0 && p.Size > a.maxSize) {
		return fmt.Errorf("%s (%d bytes): %w", p.Name, p.Size, ErrTooLarge)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[p.FileID]; ok && f.from != env.From {
		return fmt.Errorf("start of %s from %s: %w", p.FileID, env.From, ErrWrongSender)
	}
	a.files[p.FileID] = &pending{start: p, from: env.From, chunks: make(map[int][]byte)}
	return nil
}

func (a *Assembler) chunk(env *envelope.Envelope) error {
	p, err := envelope.DecodePayload[envelope.FileChunkPayload](env)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.files[p.FileID]
	if !ok {
		return fmt.Errorf("chunk for %s: %w", p.FileID, ErrUnknownTransfer)
	}
	if env.From != f.from {
		return fmt.Errorf("chunk %d of %s from %s: %w", p.Index, p.FileID, env.From, ErrWrongSender)
	}
	// Every chunk carries at least one byte, so a file has at most Size chunks.
	if p.Index < 0 || int64(p.Index) >= f.start.Size {
		return fmt.Errorf("chunk %d of %s (%d bytes): %w", p.Index, p.FileID, f.start.Size, ErrBadChunk)
	}

	sealed, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return fmt.Errorf("chunk %d of %s: %w", p.Index, p.FileID, err)
	}
	data, err := a.sealer.Open(p.FileID, p.Index, sealed)
	if err != nil {
		return fmt.Errorf("chunk %d of %s: %w", p.Index, p.FileID, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("chunk %d of %s is empty: %w", p.Index, p.FileID, ErrBadChunk)
	}

	buffered := f.buffered - int64(len(f.chunks[p.Index])) + int64(len(data))
	if buffered > f.start.Size {
		return fmt.Errorf("chunk %d of %s exceeds %d bytes: %w", p.Index, p.FileID, f.start.Size, ErrTooLarge)
	}
	f.chunks[p.Index] = data
	f.buffered = buffered
	return nil
}

func (a *Assembler) end(env *envelope.Envelope) (*File, error) {
	p, err := envelope.DecodePayload[envelope.FileEndPayload](env)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	f, ok := a.files[p.FileID]
	if ok && f.from != env.From {
		a.mu.Unlock()
		return nil, fmt.Errorf("end of %s from %s: %w", p.FileID, env.From, ErrWrongSender)
	}
	delete(a.files, p.FileID)
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("end of %s: %w", p.FileID, ErrUnknownTransfer)
	}

	data := make([]byte, 0, f.start.Size)
	for i := 0; i < len(f.chunks); i++ {
		chunk, ok := f.chunks[i]
		if !ok {
			return nil, fmt.Errorf("%s missing chunk %d: %w", p.FileID, i, ErrIncomplete)
		}
		data = append(data, chunk...)
	}
	if int64(len(data)) != f.start.Size {
		return nil, fmt.Errorf("%s has %d of %d bytes: %w", p.FileID, len(data), f.start.Size, ErrIncomplete)
	}
	if Digest(data) != f.start.SHA256 {
		return nil, fmt.Errorf("%s: %w", p.FileID, ErrDigestMismatch)
	}

	return &File{
		FileID: p.FileID,
		From:   f.from,
		Name:   f.start.Name,
		Mode:   f.start.Mode,
		SHA256: f.start.SHA256,
		Data:   data,
	}, nil
}
