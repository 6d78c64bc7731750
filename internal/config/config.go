package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/codefionn/echochat/internal/consts"
	"github.com/codefionn/echochat/internal/logger"
	"github.com/codefionn/echochat/internal/reconnect"
	"github.com/codefionn/echochat/internal/secrets"
	"github.com/codefionn/echochat/internal/session"
	"github.com/codefionn/echochat/internal/transfer"
)

// Reconnect strategies
const (
	StrategyFixed             = "fixed"
	StrategyExponential       = "exponential"
	StrategyExponentialJitter = "exponential_jitter"
)

// Environment variables that override the config file
const (
	EnvServerURL       = "ECHOCHAT_SERVER_URL"
	EnvIdentity        = "ECHOCHAT_IDENTITY"
	EnvLogLevel        = "ECHOCHAT_LOG_LEVEL"
	EnvLogPath         = "ECHOCHAT_LOG_PATH"
	EnvSecretsPassword = "ECHOCHAT_SECRETS_PASSWORD"
)

const verifierPlaintext = "echochat"

// ReconnectConfig selects the delay between reconnect attempts
type ReconnectConfig struct {
	Strategy    string  `json:"strategy"` // fixed, exponential, exponential_jitter
	DelayMS     int     `json:"delay_ms"`
	MaxDelayMS  int     `json:"max_delay_ms,omitempty"`
	MaxAttempts int     `json:"max_attempts,omitempty"` // 0 retries forever
	Jitter      float64 `json:"jitter,omitempty"`       // randomization factor for exponential_jitter
}

// TransferConfig holds file transfer settings
type TransferConfig struct {
	ChunkSize       int    `json:"chunk_size"`
	ChunkIntervalMS int    `json:"chunk_interval_ms"`
	Key             string `json:"key,omitempty"`      // hex, 32 bytes; enables chunk encryption
	SaveDir         string `json:"save_dir,omitempty"` // where received files are written
	MaxFileSize     int64  `json:"max_file_size,omitempty"`
}

// SecretsSettings keeps track of password-protection state.
type SecretsSettings struct {
	PasswordSet bool   `json:"password_set,omitempty"`
	Verifier    string `json:"verifier,omitempty"`
}

// Config represents client configuration
type Config struct {
	ServerURL           string          `json:"server_url"`
	Identity            string          `json:"identity"`
	PubKey              string          `json:"pubkey,omitempty"`
	EncPubKey           string          `json:"enc_pubkey,omitempty"`
	HeartbeatIntervalMS int             `json:"heartbeat_interval_ms"`
	Reconnect           ReconnectConfig `json:"reconnect"`
	Transfer            TransferConfig  `json:"transfer"`
	DialTimeoutSeconds  int             `json:"dial_timeout_seconds"`
	WriteTimeoutSeconds int             `json:"write_timeout_seconds"`
	LogLevel            string          `json:"log_level"` // debug, info, warn, error, none
	LogPath             string          `json:"log_path,omitempty"`
	Secrets             SecretsSettings `json:"secrets,omitempty"`

	secretsPassword string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "echochat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "echochat")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "echochat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "echochat")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "echochat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "echochat")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "echochat")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "echochat")
	default:
		return defaultConfigDir()
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ServerURL:           "ws://localhost:8080/ws",
		PubKey:              session.PlaceholderPubKey,
		EncPubKey:           session.PlaceholderEncPubKey,
		HeartbeatIntervalMS: int(consts.HeartbeatInterval / time.Millisecond),
		Reconnect: ReconnectConfig{
			Strategy: StrategyFixed,
			DelayMS:  int(consts.ReconnectDelay / time.Millisecond),
		},
		Transfer: TransferConfig{
			ChunkSize:       consts.ChunkSize,
			ChunkIntervalMS: int(consts.ChunkInterval / time.Millisecond),
		},
		DialTimeoutSeconds:  int(consts.DialTimeout / time.Second),
		WriteTimeoutSeconds: int(consts.WriteTimeout / time.Second),
		LogLevel:            "info",
		LogPath:             filepath.Join(defaultStateDir(), "echochat.log"),
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	defaults := DefaultConfig()
	if config.LogLevel == "" {
		config.LogLevel = defaults.LogLevel
	}
	if config.Reconnect.Strategy == "" {
		config.Reconnect.Strategy = defaults.Reconnect.Strategy
	}
	if config.Transfer.ChunkSize == 0 {
		config.Transfer.ChunkSize = defaults.Transfer.ChunkSize
	}

	return config, nil
}

// ApplyEnv overrides fields from ECHOCHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvServerURL)); v != "" {
		c.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIdentity)); v != "" {
		c.Identity = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
}

// Validate checks that the config can start a session.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	} else if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("server_url %q must be a ws:// or wss:// URL", c.ServerURL))
	}
	if strings.TrimSpace(c.Identity) == "" {
		errs = append(errs, errors.New("identity is required"))
	}
	if c.HeartbeatIntervalMS < 0 {
		errs = append(errs, errors.New("heartbeat_interval_ms must not be negative"))
	}

	switch c.Reconnect.Strategy {
	case StrategyFixed, StrategyExponential, StrategyExponentialJitter:
	default:
		errs = append(errs, fmt.Errorf("unknown reconnect strategy %q", c.Reconnect.Strategy))
	}
	if c.Reconnect.DelayMS <= 0 {
		errs = append(errs, errors.New("reconnect.delay_ms must be positive"))
	}
	if c.Reconnect.MaxDelayMS != 0 && c.Reconnect.MaxDelayMS < c.Reconnect.DelayMS {
		errs = append(errs, errors.New("reconnect.max_delay_ms must not be below delay_ms"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter >= 1 {
		errs = append(errs, errors.New("reconnect.jitter must be in [0, 1)"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}

	if c.Transfer.ChunkSize <= 0 || c.Transfer.ChunkSize > consts.BufferSize1MB {
		errs = append(errs, fmt.Errorf("transfer.chunk_size must be in (0, %d]", consts.BufferSize1MB))
	}
	if c.Transfer.ChunkIntervalMS < 0 {
		errs = append(errs, errors.New("transfer.chunk_interval_ms must not be negative"))
	}
	if c.Transfer.Key != "" && !secrets.IsEncrypted(c.Transfer.Key) {
		if _, err := decodeKey(c.Transfer.Key); err != nil {
			errs = append(errs, err)
		}
	}

	if logger.ParseLevel(c.LogLevel) == logger.LevelInfo && !strings.EqualFold(strings.TrimSpace(c.LogLevel), "info") {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// HeartbeatInterval returns the heartbeat period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// ChunkInterval returns the pause between file chunks.
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.Transfer.ChunkIntervalMS) * time.Millisecond
}

// DialTimeout returns the handshake timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// WriteTimeout returns the per-frame write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ReconnectPolicy builds the backoff policy described by Reconnect.
func (c *Config) ReconnectPolicy() (reconnect.Policy, error) {
	r := c.Reconnect
	delay := time.Duration(r.DelayMS) * time.Millisecond
	maxDelay := time.Duration(r.MaxDelayMS) * time.Millisecond
	if maxDelay == 0 {
		maxDelay = 30 * time.Second
	}

	var policy reconnect.Policy
	switch r.Strategy {
	case "", StrategyFixed:
		policy = reconnect.Fixed(delay)
	case StrategyExponential:
		policy = reconnect.Exponential(delay, maxDelay)
	case StrategyExponentialJitter:
		jitter := r.Jitter
		if jitter == 0 {
			jitter = 0.5
		}
		policy = reconnect.ExponentialJitter(delay, maxDelay, jitter)
	default:
		return nil, fmt.Errorf("unknown reconnect strategy %q", r.Strategy)
	}
	return reconnect.WithMaxAttempts(policy, r.MaxAttempts), nil
}

// SessionOptions returns the session options described by the config.
func (c *Config) SessionOptions() ([]session.Option, error) {
	policy, err := c.ReconnectPolicy()
	if err != nil {
		return nil, err
	}
	return []session.Option{
		session.WithHeartbeat(c.HeartbeatInterval()),
		session.WithReconnectPolicy(policy),
		session.WithHelloKeys(c.PubKey, c.EncPubKey),
		session.WithDialTimeout(c.DialTimeout()),
		session.WithWriteTimeout(c.WriteTimeout()),
	}, nil
}

// Sealer returns the chunk sealer: XChaCha20-Poly1305 when a transfer key is
// configured, plaintext otherwise. An encrypted key needs the secrets
// password applied first.
func (c *Config) Sealer() (transfer.Sealer, error) {
	if c.Transfer.Key == "" {
		return transfer.Plaintext, nil
	}
	if secrets.IsEncrypted(c.Transfer.Key) {
		return nil, errors.New("transfer key is encrypted; apply the secrets password first")
	}
	key, err := decodeKey(c.Transfer.Key)
	if err != nil {
		return nil, err
	}
	return transfer.NewXChaChaSealer(key)
}

// TransferOptions returns the encoder options described by the config.
func (c *Config) TransferOptions() ([]transfer.Option, error) {
	sealer, err := c.Sealer()
	if err != nil {
		return nil, err
	}
	return []transfer.Option{
		transfer.WithChunkSize(c.Transfer.ChunkSize),
		transfer.WithChunkInterval(c.ChunkInterval()),
		transfer.WithSealer(sealer),
	}, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("transfer.key must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("transfer.key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Save saves configuration to file. The transfer key is encrypted when a
// secrets password is active.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := c.marshalWithEncryptedSecrets()
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// ApplySecretsPassword checks password against the stored verifier and
// decrypts the transfer key.
func (c *Config) ApplySecretsPassword(password string) error {
	if err := c.verifyPassword(password); err != nil {
		return err
	}
	if err := decryptField(&c.Transfer.Key, password); err != nil {
		return err
	}
	c.secretsPassword = password
	return nil
}

// SecretsPassword returns the active secrets password (empty string by default).
func (c *Config) SecretsPassword() string {
	return c.secretsPassword
}

// UpdateSecretsPassword switches the runtime password and updates the persisted flags.
func (c *Config) UpdateSecretsPassword(password string) error {
	if c == nil {
		return nil
	}
	c.Secrets.PasswordSet = password != ""
	c.Secrets.Verifier = ""
	c.secretsPassword = password
	return nil
}

func (c *Config) marshalWithEncryptedSecrets() ([]byte, error) {
	copyCfg := *c

	if c.secretsPassword != "" && !secrets.IsEncrypted(c.Transfer.Key) {
		key, err := secrets.EncryptString(c.Transfer.Key, c.secretsPassword)
		if err != nil {
			return nil, err
		}
		copyCfg.Transfer.Key = key
	}

	copyCfg.Secrets.Verifier = ""
	if copyCfg.Secrets.PasswordSet {
		verifier, err := secrets.EncryptString(verifierPlaintext, c.secretsPassword)
		if err != nil {
			return nil, err
		}
		copyCfg.Secrets.Verifier = verifier
	}

	return json.MarshalIndent(&copyCfg, "", "  ")
}

func decryptField(value *string, password string) error {
	plain, encrypted, err := secrets.DecryptString(*value, password)
	if err != nil {
		return err
	}
	if encrypted {
		*value = plain
	}
	return nil
}

func (c *Config) verifyPassword(password string) error {
	if !c.Secrets.PasswordSet || c.Secrets.Verifier == "" {
		return nil
	}
	_, _, err := secrets.DecryptString(c.Secrets.Verifier, password)
	return err
}
