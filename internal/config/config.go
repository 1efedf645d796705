package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultDomain            = "localhost:8080"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultReconnectAttempts = 5
	DefaultReconnectInterval = time.Second
	DefaultWidth             = 640
	DefaultHeight            = 480
	DefaultFrameRate         = 30

	DefaultRelayAddr    = ":8080"
	DefaultRoomTTL      = 6 * time.Hour
	DefaultConfigEnvVar = "CAMSYNC_CONFIG"
)

// Config holds the client configuration
type Config struct {
	// Domain is the relay domain, used for room links
	Domain string

	// WebSocketURL is the relay endpoint, constructed from Domain unless overridden
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	// Signaling reconnect policy
	ReconnectAttempts int
	ReconnectInterval time.Duration

	Media MediaConfig
}

// MediaConfig describes what the capture adapter asks the device for.
type MediaConfig struct {
	Audio     bool
	Width     int
	Height    int
	FrameRate float64
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile string
	Domain     string
	RelayURL   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	Audio      bool
}

// fileConfig mirrors the YAML config file. Pointers distinguish "unset" from zero values.
type fileConfig struct {
	Domain      string   `yaml:"domain"`
	RelayURL    string   `yaml:"relay_url"`
	STUNServers []string `yaml:"stun_servers"`
	TURN        struct {
		Server   string `yaml:"server"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"turn"`
	ForceRelay *bool `yaml:"force_relay"`
	Reconnect  struct {
		Attempts int           `yaml:"attempts"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"reconnect"`
	Media struct {
		Audio     *bool   `yaml:"audio"`
		Width     int     `yaml:"width"`
		Height    int     `yaml:"height"`
		FrameRate float64 `yaml:"frame_rate"`
	} `yaml:"media"`
	Relay struct {
		Addr  string `yaml:"addr"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		RoomTTL time.Duration `yaml:"room_ttl"`
	} `yaml:"relay"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	domain := firstNonEmpty(opts.Domain, os.Getenv("DOMAIN"), file.Domain, DefaultDomain)
	relayURL := firstNonEmpty(opts.RelayURL, os.Getenv("RELAY_URL"), file.RelayURL)

	stun := file.STUNServers
	if s := firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER")); s != "" {
		stun = splitList(s)
	}
	if len(stun) == 0 {
		stun = []string{DefaultSTUN}
	}

	forceRelay := opts.ForceRelay
	if !forceRelay {
		forceRelay = envBool("FORCE_RELAY", derefBool(file.ForceRelay, false))
	}

	attempts := envInt("RECONNECT_ATTEMPTS", file.Reconnect.Attempts)
	if attempts <= 0 {
		attempts = DefaultReconnectAttempts
	}
	interval := envDuration("RECONNECT_INTERVAL", file.Reconnect.Interval)
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	audio := opts.Audio
	if !audio {
		audio = envBool("MEDIA_AUDIO", derefBool(file.Media.Audio, false))
	}

	cfg := &Config{
		Domain:            domain,
		WebSocketURL:      relayURL,
		STUNServers:       stun,
		TURNServer:        firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURN.Server),
		TURNUser:          firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURN.Username),
		TURNPass:          firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURN.Password),
		ForceRelay:        forceRelay,
		ReconnectAttempts: attempts,
		ReconnectInterval: interval,
		Media: MediaConfig{
			Audio:     audio,
			Width:     orInt(file.Media.Width, DefaultWidth),
			Height:    orInt(file.Media.Height, DefaultHeight),
			FrameRate: orFloat(file.Media.FrameRate, DefaultFrameRate),
		},
	}

	// Construct WebSocket URL
	if cfg.WebSocketURL == "" {
		scheme := "wss"
		if isLocal(domain) {
			scheme = "ws"
		}
		cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", scheme, domain)
	}

	return cfg, nil
}

// GetRoomLink returns the shareable URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	scheme := "https"
	if isLocal(c.Domain) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/r/%s", scheme, c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// RelayConfig holds the reference relay configuration.
type RelayConfig struct {
	Addr          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RoomTTL       time.Duration
}

// RelayOptions for loading relay config with CLI flag overrides
type RelayOptions struct {
	ConfigFile string
	Addr       string
	RedisAddr  string
}

// LoadRelay resolves the relay configuration with the same priority as Load.
func LoadRelay(opts RelayOptions) (*RelayConfig, error) {
	file, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	ttl := envDuration("ROOM_TTL", file.Relay.RoomTTL)
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}

	return &RelayConfig{
		Addr:          firstNonEmpty(opts.Addr, os.Getenv("RELAY_ADDR"), file.Relay.Addr, DefaultRelayAddr),
		RedisAddr:     firstNonEmpty(opts.RedisAddr, os.Getenv("REDIS_ADDR"), file.Relay.Redis.Addr),
		RedisPassword: firstNonEmpty(os.Getenv("REDIS_PASSWORD"), file.Relay.Redis.Password),
		RedisDB:       envInt("REDIS_DB", file.Relay.Redis.DB),
		RoomTTL:       ttl,
	}, nil
}

func readFile(path string) (*fileConfig, error) {
	var fc fileConfig

	if path == "" {
		path = os.Getenv(DefaultConfigEnvVar)
	}
	if path == "" {
		return &fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func derefBool(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func isLocal(domain string) bool {
	return strings.HasPrefix(domain, "localhost") || strings.HasPrefix(domain, "127.")
}
