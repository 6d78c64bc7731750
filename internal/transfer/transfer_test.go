package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/echochat/internal/envelope"
)

type recordingSender struct {
	mu    sync.Mutex
	envs  []*envelope.Envelope
	times []time.Time

	// failAt makes the n-th Send (1-based) fail once.
	failAt int
	calls  int
	done   chan struct{}
}

func (r *recordingSender) Send(ctx context.Context, env *envelope.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt > 0 && r.calls == r.failAt {
		return errors.New("socket closed")
	}
	r.envs = append(r.envs, env)
	r.times = append(r.times, time.Now())
	return nil
}

func (r *recordingSender) Done() <-chan struct{} {
	return r.done
}

func (r *recordingSender) sent() []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*envelope.Envelope(nil), r.envs...)
}

func (r *recordingSender) ofType(msgType string) []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, env := range r.sent() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func newSender() *recordingSender {
	return &recordingSender{done: make(chan struct{})}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		size  int64
		chunk int
		want  int
	}{
		{0, 262144, 0},
		{1, 262144, 1},
		{262144, 262144, 1},
		{262145, 262144, 2},
		{614400, 262144, 3},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TotalChunks(tt.size, tt.chunk), "size %d chunk %d", tt.size, tt.chunk)
	}
}

func TestSendFilePublic(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkInterval(0))
	data := randomBytes(t, 600*1024)

	tr, err := enc.SendFile(context.Background(), data, "photo.png", envelope.Broadcast)
	require.NoError(t, err)
	assert.Equal(t, 3, tr.TotalChunks)
	assert.True(t, tr.Complete())

	envs := sender.sent()
	require.Len(t, envs, 5)
	assert.Equal(t, envelope.TypeFileStart, envs[0].Type)
	assert.Equal(t, envelope.TypeFileEnd, envs[4].Type)
	for _, env := range envs {
		assert.Equal(t, envelope.Broadcast, env.To)
	}

	start, err := envelope.DecodePayload[envelope.FileStartPayload](envs[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.ModePublic, start.Mode)
	assert.Equal(t, int64(614400), start.Size)
	assert.Equal(t, "photo.png", start.Name)
	assert.Equal(t, Digest(data), start.SHA256)
	assert.Equal(t, tr.FileID, start.FileID)

	end, err := envelope.DecodePayload[envelope.FileEndPayload](envs[4])
	require.NoError(t, err)
	assert.Equal(t, envelope.FileEndPayload{FileID: tr.FileID, Name: "photo.png", Size: 614400}, end)

	var rebuilt []byte
	for i, env := range sender.ofType(envelope.TypeFileChunk) {
		chunk, err := envelope.DecodePayload[envelope.FileChunkPayload](env)
		require.NoError(t, err)
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, tr.FileID, chunk.FileID)
		raw, err := base64.StdEncoding.DecodeString(chunk.Ciphertext)
		require.NoError(t, err)
		rebuilt = append(rebuilt, raw...)
	}
	assert.True(t, bytes.Equal(data, rebuilt))
	assert.Equal(t, start.SHA256, Digest(rebuilt))
}

func TestSendFileDirect(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkInterval(0))

	tr, err := enc.SendFile(context.Background(), []byte("hello"), "a.txt", "bob")
	require.NoError(t, err)
	assert.Equal(t, envelope.ModeDM, tr.Mode)

	start, err := envelope.DecodePayload[envelope.FileStartPayload](sender.sent()[0])
	require.NoError(t, err)
	assert.Equal(t, envelope.ModeDM, start.Mode)
}

func TestSendEmptyFile(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender)

	tr, err := enc.SendFile(context.Background(), nil, "empty", "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, tr.TotalChunks)

	envs := sender.sent()
	require.Len(t, envs, 2)
	assert.Equal(t, envelope.TypeFileStart, envs[0].Type)
	assert.Equal(t, envelope.TypeFileEnd, envs[1].Type)

	start, err := envelope.DecodePayload[envelope.FileStartPayload](envs[0])
	require.NoError(t, err)
	assert.Equal(t, Digest(nil), start.SHA256)
}

func TestFileIDsAreUnique(t *testing.T) {
	enc := NewEncoder(newSender())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tr, err := enc.NewTransfer([]byte("x"), "x", "bob")
		require.NoError(t, err)
		require.False(t, seen[tr.FileID])
		seen[tr.FileID] = true
	}
}

func TestChunkPacing(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkSize(4), WithChunkInterval(40*time.Millisecond))

	start := time.Now()
	_, err := enc.SendFile(context.Background(), []byte("0123456789ab"), "f", "bob")
	require.NoError(t, err)
	elapsed := time.Since(start)

	// Three chunks: no wait before the first, two waits in between.
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)

	sender.mu.Lock()
	times := sender.times
	sender.mu.Unlock()
	require.Len(t, times, 5)
	assert.Less(t, times[1].Sub(times[0]), 30*time.Millisecond, "first chunk should not wait")
	assert.Less(t, times[4].Sub(times[3]), 30*time.Millisecond, "no wait after the last chunk")
}

type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

func TestCustomLimiter(t *testing.T) {
	limiter := &countingLimiter{}
	enc := NewEncoder(newSender(), WithChunkSize(2), WithLimiter(limiter))

	_, err := enc.SendFile(context.Background(), []byte("abcdef"), "f", "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, limiter.waits)
}

func TestProgress(t *testing.T) {
	var events []Progress
	enc := NewEncoder(newSender(), WithChunkSize(4), WithChunkInterval(0), WithProgress(func(p Progress) {
		events = append(events, p)
	}))

	_, err := enc.SendFile(context.Background(), []byte("0123456789"), "f", "bob")
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, int64(4), events[0].BytesSent)
	assert.Equal(t, int64(10), events[2].BytesSent)
	assert.False(t, events[1].Done())
	assert.True(t, events[2].Done())
}

func TestSendFailureAndResume(t *testing.T) {
	sender := newSender()
	// START, chunk 0, then chunk 1 fails.
	sender.failAt = 3
	enc := NewEncoder(sender, WithChunkSize(4), WithChunkInterval(0))
	data := []byte("0123456789")

	tr, err := enc.SendFile(context.Background(), data, "f", "bob")
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, tr.FileID, terr.FileID)
	assert.Equal(t, PhaseChunk, terr.Phase)
	assert.Equal(t, 1, terr.Index)
	assert.Equal(t, 1, tr.NextIndex)
	assert.False(t, tr.Complete())
	assert.Len(t, sender.ofType(envelope.TypeFileEnd), 0)

	require.NoError(t, enc.Resume(context.Background(), tr, data))
	assert.True(t, tr.Complete())

	assert.Len(t, sender.ofType(envelope.TypeFileStart), 1)
	chunks := sender.ofType(envelope.TypeFileChunk)
	require.Len(t, chunks, 3)
	for i, env := range chunks {
		p, err := envelope.DecodePayload[envelope.FileChunkPayload](env)
		require.NoError(t, err)
		assert.Equal(t, i, p.Index)
	}
	assert.Len(t, sender.ofType(envelope.TypeFileEnd), 1)
}

func TestResumeRejectsOtherData(t *testing.T) {
	sender := newSender()
	sender.failAt = 2
	enc := NewEncoder(sender, WithChunkSize(4), WithChunkInterval(0))

	tr, err := enc.SendFile(context.Background(), []byte("0123456789"), "f", "bob")
	require.Error(t, err)

	err = enc.Resume(context.Background(), tr, []byte("9876543210"))
	assert.ErrorIs(t, err, ErrDataMismatch)
}

func TestStartFailure(t *testing.T) {
	sender := newSender()
	sender.failAt = 1
	enc := NewEncoder(sender, WithChunkInterval(0))

	tr, err := enc.SendFile(context.Background(), []byte("abc"), "f", "bob")
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, PhaseStart, terr.Phase)
	assert.False(t, tr.Started)

	require.NoError(t, enc.Resume(context.Background(), tr, []byte("abc")))
	assert.Len(t, sender.ofType(envelope.TypeFileStart), 1)
}

func TestCancelDuringPacing(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkSize(1), WithChunkInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	tr, err := enc.SendFile(ctx, []byte("abc"), "f", "bob")
	assert.Less(t, time.Since(start), 2*time.Second)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Index)
	assert.Equal(t, 1, tr.NextIndex)
	assert.Len(t, sender.ofType(envelope.TypeFileChunk), 1)
	assert.Len(t, sender.ofType(envelope.TypeFileEnd), 0)
}

func TestSenderClosedAbortsTransfer(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkSize(1), WithChunkInterval(50*time.Millisecond))
	time.AfterFunc(20*time.Millisecond, func() { close(sender.done) })

	_, err := enc.SendFile(context.Background(), []byte("abcdef"), "f", "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSenderClosed)
	assert.Less(t, len(sender.ofType(envelope.TypeFileChunk)), 6)
}

func TestSendPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some notes"), 0o600))

	sender := newSender()
	enc := NewEncoder(sender, WithChunkInterval(0))
	tr, err := enc.SendPath(context.Background(), path, "bob")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", tr.Name)
	assert.Equal(t, int64(10), tr.Size)

	_, err = enc.SendPath(context.Background(), filepath.Join(dir, "missing"), "bob")
	assert.Error(t, err)
}

func TestAssemblerRoundTrip(t *testing.T) {
	key := randomBytes(t, 32)
	sealer, err := NewXChaChaSealer(key)
	require.NoError(t, err)

	sender := newSender()
	enc := NewEncoder(sender, WithChunkSize(1000), WithChunkInterval(0), WithSealer(sealer))
	data := randomBytes(t, 4321)

	tr, err := enc.SendFile(context.Background(), data, "blob.bin", envelope.Broadcast)
	require.NoError(t, err)

	chunk, err := envelope.DecodePayload[envelope.FileChunkPayload](sender.ofType(envelope.TypeFileChunk)[0])
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(chunk.Ciphertext)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, data[:1000]), "chunk should be sealed")

	asm := NewAssembler(sealer, 0)
	var file *File
	for _, env := range sender.sent() {
		env.From = "alice"
		f, err := asm.Handle(env)
		require.NoError(t, err)
		if f != nil {
			file = f
		}
	}
	require.NotNil(t, file)
	assert.Equal(t, tr.FileID, file.FileID)
	assert.Equal(t, "alice", file.From)
	assert.Equal(t, "blob.bin", file.Name)
	assert.Equal(t, envelope.ModePublic, file.Mode)
	assert.Equal(t, data, file.Data)
	assert.Equal(t, 0, asm.Pending())
}

func TestAssemblerErrors(t *testing.T) {
	sender := newSender()
	enc := NewEncoder(sender, WithChunkSize(2), WithChunkInterval(0))
	_, err := enc.SendFile(context.Background(), []byte("abcdef"), "f", "bob")
	require.NoError(t, err)
	envs := sender.sent()

	t.Run("missing chunk", func(t *testing.T) {
		asm := NewAssembler(nil, 0)
		for _, env := range envs {
			if env.Type == envelope.TypeFileChunk {
				p, _ := envelope.DecodePayload[envelope.FileChunkPayload](env)
				if p.Index == 1 {
					continue
				}
			}
			if env.Type == envelope.TypeFileEnd {
				_, err := asm.Handle(env)
				assert.ErrorIs(t, err, ErrIncomplete)
				continue
			}
			_, err := asm.Handle(env)
			require.NoError(t, err)
		}
	})

	t.Run("chunk without start", func(t *testing.T) {
		asm := NewAssembler(nil, 0)
		_, err := asm.Handle(envs[1])
		assert.ErrorIs(t, err, ErrUnknownTransfer)
	})

	t.Run("too large", func(t *testing.T) {
		asm := NewAssembler(nil, 3)
		_, err := asm.Handle(envs[0])
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("wrong key", func(t *testing.T) {
		sealer, err := NewXChaChaSealer(randomBytes(t, 32))
		require.NoError(t, err)
		asm := NewAssembler(sealer, 0)
		_, err = asm.Handle(envs[0])
		require.NoError(t, err)
		_, err = asm.Handle(envs[1])
		assert.ErrorIs(t, err, ErrOpen)
	})

	start, err := envelope.DecodePayload[envelope.FileStartPayload](envs[0])
	require.NoError(t, err)
	chunkFrom := func(t *testing.T, from string, index int, data []byte) *envelope.Envelope {
		env, err := envelope.Build(envelope.TypeFileChunk, from, "bob", envelope.FileChunkPayload{
			FileID:     start.FileID,
			Index:      index,
			Ciphertext: base64.StdEncoding.EncodeToString(data),
		})
		require.NoError(t, err)
		return env
	}

	t.Run("chunks cannot outgrow announced size", func(t *testing.T) {
		asm := NewAssembler(nil, 1024)
		_, err := asm.Handle(envs[0])
		require.NoError(t, err)

		_, err = asm.Handle(chunkFrom(t, "", 0, bytes.Repeat([]byte("x"), 64*1024)))
		assert.ErrorIs(t, err, ErrTooLarge)
		_, err = asm.Handle(chunkFrom(t, "", 1000, []byte("x")))
		assert.ErrorIs(t, err, ErrBadChunk)
		_, err = asm.Handle(chunkFrom(t, "", -1, []byte("x")))
		assert.ErrorIs(t, err, ErrBadChunk)
		_, err = asm.Handle(chunkFrom(t, "", 2, nil))
		assert.ErrorIs(t, err, ErrBadChunk)

		for i := 0; i < 6; i++ {
			_, err = asm.Handle(chunkFrom(t, "", i, []byte("x")))
			require.NoError(t, err)
		}
		// Replacing a chunk frees its bytes; growing it past the total does not fit.
		_, err = asm.Handle(chunkFrom(t, "", 0, []byte("y")))
		require.NoError(t, err)
		_, err = asm.Handle(chunkFrom(t, "", 0, []byte("yy")))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("other sender cannot touch transfer", func(t *testing.T) {
		asm := NewAssembler(nil, 0)
		for _, env := range envs[:len(envs)-1] {
			_, err := asm.Handle(env)
			require.NoError(t, err)
		}

		_, err := asm.Handle(chunkFrom(t, "mallory", 0, []byte("zz")))
		assert.ErrorIs(t, err, ErrWrongSender)

		hijack := *envs[0]
		hijack.From = "mallory"
		_, err = asm.Handle(&hijack)
		assert.ErrorIs(t, err, ErrWrongSender)

		end := *envs[len(envs)-1]
		end.From = "mallory"
		_, err = asm.Handle(&end)
		assert.ErrorIs(t, err, ErrWrongSender)
		assert.Equal(t, 1, asm.Pending())

		file, err := asm.Handle(envs[len(envs)-1])
		require.NoError(t, err)
		require.NotNil(t, file)
		assert.Equal(t, []byte("abcdef"), file.Data)
	})

	t.Run("other types ignored", func(t *testing.T) {
		asm := NewAssembler(nil, 0)
		f, err := asm.Handle(&envelope.Envelope{Type: envelope.TypeHeartbeat})
		assert.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestXChaChaSealerBindsIndex(t *testing.T) {
	sealer, err := NewXChaChaSealer(randomBytes(t, 32))
	require.NoError(t, err)

	sealed, err := sealer.Seal("f1", 0, []byte("secret"))
	require.NoError(t, err)

	plain, err := sealer.Open("f1", 0, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)

	_, err = sealer.Open("f1", 1, sealed)
	assert.ErrorIs(t, err, ErrOpen)
	_, err = sealer.Open("f2", 0, sealed)
	assert.ErrorIs(t, err, ErrOpen)

	_, err = NewXChaChaSealer([]byte("short"))
	assert.Error(t, err)
}
