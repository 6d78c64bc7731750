package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/logger"
)

// Sender writes one envelope. *session.Session satisfies it.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// ErrSenderClosed is the cause of a transfer aborted because the sender
// shut down.
var ErrSenderClosed = errors.New("sender closed")

// ErrDataMismatch is returned by Resume when the data does not match the
// transfer it is meant to continue.
var ErrDataMismatch = errors.New("data does not match transfer")

// Transfer phases reported in TransferError.
const (
	PhaseStart = "start"
	PhaseChunk = "chunk"
	PhaseEnd   = "end"
)

// TransferError reports where a transfer stopped. Chunks before Index were
// handed to the sender; Resume continues from Index.
type TransferError struct {
	FileID string
	Phase  string
	Index  int
	Err    error
}

func (e *TransferError) Error() string {
	if e.Phase == PhaseChunk {
		return fmt.Sprintf("transfer %s failed at chunk %d: %v", e.FileID, e.Index, e.Err)
	}
	return fmt.Sprintf("transfer %s failed at %s: %v", e.FileID, e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Transfer describes one file being sent.
type Transfer struct {
	FileID      string
	Name        string
	Size        int64
	SHA256      string
	ChunkSize   int
	TotalChunks int
	Mode        string
	To          string

	// NextIndex is the first chunk not yet handed to the sender.
	NextIndex int
	// Started is set once FILE_START was sent.
	Started bool
}

// Complete reports whether every chunk was sent.
func (t *Transfer) Complete() bool {
	return t.NextIndex >= t.TotalChunks
}

// TotalChunks returns ceil(size / chunkSize), which is 0 for an empty file.
func TotalChunks(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	n := size / int64(chunkSize)
	if size%int64(chunkSize) != 0 {
		n++
	}
	return int(n)
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encoder splits files into FILE_START, FILE_CHUNK and FILE_END envelopes.
type Encoder struct {
	sender Sender
	opts   options
	log    *slog.Logger
}

// NewEncoder returns an encoder writing to sender.
func NewEncoder(sender Sender, opts ...Option) *Encoder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = logger.Slog(logger.Global().WithPrefix("transfer"))
	}
	return &Encoder{sender: sender, opts: o, log: log}
}

// NewTransfer computes the digest and a fresh file id for data.
func (e *Encoder) NewTransfer(data []byte, name, to string) (*Transfer, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate file id: %w", err)
	}
	size := int64(len(data))
	return &Transfer{
		FileID:      id.String(),
		Name:        name,
		Size:        size,
		SHA256:      Digest(data),
		ChunkSize:   e.opts.chunkSize,
		TotalChunks: TotalChunks(size, e.opts.chunkSize),
		Mode:        envelope.ModeFor(to),
		To:          to,
	}, nil
}

// SendFile sends data as one transfer to to ("*" for the public channel).
// The returned Transfer is non-nil whenever FILE_START could be built, also
// on error, so a failed transfer can be passed to Resume.
func (e *Encoder) SendFile(ctx context.Context, data []byte, name, to string) (*Transfer, error) {
	t, err := e.NewTransfer(data, name, to)
	if err != nil {
		return nil, err
	}
	return t, e.run(ctx, t, data)
}

// SendPath reads the file at path and sends it under its base name.
func (e *Encoder) SendPath(ctx context.Context, path, to string) (*Transfer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return e.SendFile(ctx, data, filepath.Base(path), to)
}

// Resume continues t from t.NextIndex, or from FILE_START if that was never
// sent. data must be the same bytes the transfer was created from.
func (e *Encoder) Resume(ctx context.Context, t *Transfer, data []byte) error {
	if t == nil {
		return errors.New("nil transfer")
	}
	if int64(len(data)) != t.Size || Digest(data) != t.SHA256 {
		return &TransferError{FileID: t.FileID, Phase: PhaseChunk, Index: t.NextIndex, Err: ErrDataMismatch}
	}
	if t.ChunkSize <= 0 {
		return errors.New("transfer has no chunk size")
	}
	e.log.Info("resuming file transfer", "file_id", t.FileID, "index", t.NextIndex, "chunks", t.TotalChunks)
	return e.run(ctx, t, data)
}

func (e *Encoder) run(ctx context.Context, t *Transfer, data []byte) error {
	ctx, cancel := e.transferContext(ctx)
	defer cancel(nil)

	if !t.Started {
		e.log.Info("file transfer started", "file_id", t.FileID, "name", t.Name, "size", t.Size,
			"chunks", t.TotalChunks, "mode", t.Mode)

		err := e.send(ctx, envelope.TypeFileStart, t.To, envelope.FileStartPayload{
			FileID: t.FileID,
			Name:   t.Name,
			Size:   t.Size,
			SHA256: t.SHA256,
			Mode:   t.Mode,
		})
		if err != nil {
			return e.fail(ctx, t, PhaseStart, err)
		}
		t.Started = true
	}

	limiter := e.opts.limiter
	if limiter == nil && e.opts.chunkInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(e.opts.chunkInterval), 1)
	}

	var sent int64
	for t.NextIndex < t.TotalChunks {
		index := t.NextIndex
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return e.fail(ctx, t, PhaseChunk, err)
			}
		}

		lo := int64(index) * int64(t.ChunkSize)
		hi := min(lo+int64(t.ChunkSize), t.Size)
		sealed, err := e.opts.sealer.Seal(t.FileID, index, data[lo:hi])
		if err != nil {
			return e.fail(ctx, t, PhaseChunk, err)
		}

		err = e.send(ctx, envelope.TypeFileChunk, t.To, envelope.FileChunkPayload{
			FileID:     t.FileID,
			Index:      index,
			Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		})
		if err != nil {
			return e.fail(ctx, t, PhaseChunk, err)
		}

		t.NextIndex++
		sent += hi - lo
		e.log.Debug("chunk sent", "file_id", t.FileID, "index", index, "bytes", hi-lo)
		if e.opts.progress != nil {
			e.opts.progress(Progress{
				FileID:      t.FileID,
				Index:       index,
				TotalChunks: t.TotalChunks,
				BytesSent:   hi,
			})
		}
	}

	err := e.send(ctx, envelope.TypeFileEnd, t.To, envelope.FileEndPayload{
		FileID: t.FileID,
		Name:   t.Name,
		Size:   t.Size,
	})
	if err != nil {
		return e.fail(ctx, t, PhaseEnd, err)
	}

	e.log.Info("file transfer finished", "file_id", t.FileID, "bytes", sent)
	return nil
}

// transferContext is cancelled when ctx is, or when the sender reports
// that it has shut down.
func (e *Encoder) transferContext(ctx context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	if d, ok := e.sender.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-d.Done():
				cancel(ErrSenderClosed)
			case <-ctx.Done():
			}
		}()
	}
	return ctx, cancel
}

func (e *Encoder) send(ctx context.Context, msgType, to string, payload interface{}) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	env, err := envelope.Build(msgType, "", to, payload)
	if err != nil {
		return err
	}
	return e.sender.Send(ctx, env)
}

func (e *Encoder) fail(ctx context.Context, t *Transfer, phase string, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	e.log.Warn("file transfer aborted", "file_id", t.FileID, "phase", phase, "index", t.NextIndex, "error", err)
	return &TransferError{FileID: t.FileID, Phase: phase, Index: t.NextIndex, Err: err}
}
