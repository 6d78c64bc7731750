package transfer

import (
	"context"
	"log/slog"
	"time"

	"github.com/codefionn/echochat/internal/consts"
)

// Limiter paces chunks. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Progress is reported after each chunk has been handed to the sender.
type Progress struct {
	FileID      string
	Index       int
	TotalChunks int
	BytesSent   int64
}

// Done reports whether this was the last chunk.
func (p Progress) Done() bool {
	return p.Index == p.TotalChunks-1
}

type options struct {
	chunkSize     int
	chunkInterval time.Duration
	limiter       Limiter
	sealer        Sealer
	progress      func(Progress)
	log           *slog.Logger
}

func defaultOptions() options {
	return options{
		chunkSize:     consts.ChunkSize,
		chunkInterval: consts.ChunkInterval,
		sealer:        Plaintext,
	}
}

// Option configures an Encoder.
type Option func(*options)

// WithChunkSize sets the number of file bytes per FILE_CHUNK.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithChunkInterval sets the pause between chunks. Zero disables pacing.
// It is ignored when WithLimiter is also given.
func WithChunkInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.chunkInterval = d
		}
	}
}

// WithLimiter shares one limiter across transfers instead of pacing each
// transfer on its own.
func WithLimiter(l Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithSealer sets how chunk bytes are protected.
func WithSealer(s Sealer) Option {
	return func(o *options) {
		if s != nil {
			o.sealer = s
		}
	}
}

// WithProgress registers fn to be called after every chunk.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}
