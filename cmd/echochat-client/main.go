package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/codefionn/echochat/internal/config"
	"github.com/codefionn/echochat/internal/envelope"
	"github.com/codefionn/echochat/internal/logger"
	"github.com/codefionn/echochat/internal/secrets"
	"github.com/codefionn/echochat/internal/session"
	"github.com/codefionn/echochat/internal/transfer"
)

const (
	maxPasswordAttempts = 3
	maxResumeAttempts   = 3
	shutdownTimeout     = 5 * time.Second
)

type stringSlice []string

func (s *stringSlice) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	*s = append(*s, value)
	return nil
}

type cliOptions struct {
	configPath string
	serverURL  string
	identity   string
	logLevel   string
	logPath    string
	to         string
	saveDir    string
	send       stringSlice
	stdin      bool
	exit       bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	opts, err := parseCLIArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if err := ensureSecretsPassword(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessOpts, err := cfg.SessionOptions()
	if err != nil {
		return err
	}
	sessOpts = append(sessOpts, session.WithStateListener(func(state session.State) {
		logger.Debug("session state: %s", state)
	}))

	sess, err := session.New(cfg.ServerURL, cfg.Identity, sessOpts...)
	if err != nil {
		return err
	}

	sealer, err := cfg.Sealer()
	if err != nil {
		return err
	}
	var asm *transfer.Assembler
	if cfg.Transfer.SaveDir != "" {
		asm = transfer.NewAssembler(sealer, cfg.Transfer.MaxFileSize)
	}
	out := newPrinter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	handler := func(env *envelope.Envelope) {
		if err := out.print(env); err != nil {
			logger.Warn("failed to print %s: %v", env.Type, err)
		}
		if asm == nil {
			return
		}
		file, err := asm.Handle(env)
		if err != nil {
			logger.Warn("dropping file from %s: %v", env.From, err)
			return
		}
		if file != nil {
			path, err := saveFile(cfg.Transfer.SaveDir, file)
			if err != nil {
				logger.Error("failed to save %s: %v", file.Name, err)
				return
			}
			fmt.Fprintf(os.Stderr, "Received %s from %s -> %s\n", file.Name, file.From, path)
		}
	}

	if err := sess.Connect(ctx, handler); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if discErr := sess.Disconnect(shutdownCtx); discErr != nil {
			logger.Warn("disconnect: %v", discErr)
		}
	}()

	topts, err := cfg.TransferOptions()
	if err != nil {
		return err
	}
	topts = append(topts, transfer.WithProgress(func(p transfer.Progress) {
		fmt.Fprintf(os.Stderr, "Sent chunk %d/%d of %s (%d bytes)\n", p.Index+1, p.TotalChunks, p.FileID, p.BytesSent)
	}))
	enc := transfer.NewEncoder(sess, topts...)

	g, gctx := errgroup.WithContext(ctx)
	if len(opts.send) > 0 {
		g.Go(func() error {
			for _, path := range opts.send {
				if err := sendFile(gctx, sess, enc, path, opts.to); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if opts.stdin {
		lines := readLines(os.Stdin)
		g.Go(func() error {
			return sendLines(gctx, sess, lines, opts.to)
		})
	}

	if opts.exit && (len(opts.send) > 0 || opts.stdin) {
		return g.Wait()
	}

	select {
	case <-ctx.Done():
	case <-sess.Done():
		if err := sess.Err(); errors.Is(err, session.ErrReconnectExhausted) {
			return err
		}
	}
	fmt.Fprintln(os.Stderr, "Shutting down...")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseCLIArgs(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("echochat-client", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := &cliOptions{}
	var showHelp bool

	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the config file")
	fs.StringVar(&opts.serverURL, "url", "", "WebSocket server URL (ws:// or wss://)")
	fs.StringVar(&opts.identity, "identity", "", "Name announced in USER_HELLO and used as sender")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.StringVar(&opts.logPath, "log-path", "", "Log file path (empty keeps the config value)")
	fs.Var(&opts.send, "send", "Send a file once connected (repeatable)")
	fs.StringVar(&opts.to, "to", envelope.Broadcast, "Recipient for -send and -stdin; \"*\" is the public channel")
	fs.StringVar(&opts.saveDir, "save-dir", "", "Directory where received files are written")
	fs.BoolVar(&opts.stdin, "stdin", false, "Send each line read from stdin as a chat message")
	fs.BoolVar(&opts.exit, "exit", false, "Exit after -send and -stdin are done")
	fs.BoolVar(&showHelp, "help", false, "Show CLI usage information")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Connects to an echochat server and prints inbound envelopes as JSON lines.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.to == "" {
		return nil, errors.New("-to cannot be empty")
	}
	return opts, nil
}

func applyFlags(cfg *config.Config, opts *cliOptions) {
	if opts.serverURL != "" {
		cfg.ServerURL = opts.serverURL
	}
	if opts.identity != "" {
		cfg.Identity = opts.identity
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logPath != "" {
		cfg.LogPath = opts.logPath
	}
	if opts.saveDir != "" {
		cfg.Transfer.SaveDir = opts.saveDir
	}
}

func ensureSecretsPassword(cfg *config.Config) error {
	if !cfg.Secrets.PasswordSet {
		return cfg.ApplySecretsPassword("")
	}

	if pw, ok := os.LookupEnv(config.EnvSecretsPassword); ok {
		return cfg.ApplySecretsPassword(pw)
	}

	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		pw, err := promptForPassword("Enter encryption password: ")
		if err != nil {
			return err
		}
		if err := cfg.ApplySecretsPassword(pw); err != nil {
			if errors.Is(err, secrets.ErrInvalidPassword) {
				fmt.Fprintln(os.Stderr, "Invalid password, try again.")
				continue
			}
			return err
		}
		return nil
	}
	return errors.New("too many invalid password attempts")
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// sendFile sends path and resumes it after reconnects when the socket drops
// mid-transfer.
func sendFile(ctx context.Context, sess *session.Session, enc *transfer.Encoder, path, to string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := sess.WaitConnected(ctx); err != nil {
		return err
	}

	t, err := enc.SendFile(ctx, data, filepath.Base(path), to)
	for attempt := 1; err != nil && attempt <= maxResumeAttempts; attempt++ {
		var terr *transfer.TransferError
		if t == nil || !errors.As(err, &terr) || ctx.Err() != nil || errors.Is(err, transfer.ErrSenderClosed) {
			break
		}
		logger.Warn("transfer of %s interrupted at chunk %d, resuming (attempt %d)", path, terr.Index, attempt)
		if werr := sess.WaitConnected(ctx); werr != nil {
			break
		}
		err = enc.Resume(ctx, t, data)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", path, err)
	}

	fmt.Fprintf(os.Stderr, "Sent %s (%d bytes, sha256 %s) to %s\n", t.Name, t.Size, t.SHA256, to)
	return nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("stdin: %v", err)
		}
	}()
	return lines
}

type chatPayload struct {
	Text string `json:"text"`
}

func sendLines(ctx context.Context, sess *session.Session, lines <-chan string, to string) error {
	msgType := envelope.TypeMsgDirect
	if envelope.IsBroadcast(to) {
		msgType = envelope.TypeMsgPublicChannel
	}

	for {
		var line string
		var ok bool
		select {
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sess.WaitConnected(ctx); err != nil {
			return err
		}

		env, err := envelope.Build(msgType, "", to, chatPayload{Text: line})
		if err != nil {
			return err
		}
		if err := sess.Send(ctx, env); err != nil {
			if errors.Is(err, session.ErrNotConnected) {
				logger.Warn("message dropped: %v", err)
				fmt.Fprintln(os.Stderr, "Not connected, message dropped.")
				continue
			}
			return err
		}
	}
}

// saveFile writes file into dir under its base name, falling back to the
// file id when the name is taken or unusable.
func saveFile(dir string, file *transfer.File) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := filepath.Base(filepath.Clean("/" + file.Name))
	if name == "/" || name == "." {
		name = file.FileID
	}

	for _, candidate := range []string{name, file.FileID + "-" + name} {
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(file.Data); err != nil {
			_ = f.Close()
			return "", err
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("%s already exists in %s", name, dir)
}
