package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	WSURL  string
	APIURL string

	Token    string
	UserID   string
	Username string
	Avatar   string

	ReconnectMax     int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	SettleDelay      time.Duration

	DedupeSize int
	DedupeTTL  time.Duration

	RedisURL   string
	HistoryDSN string

	BridgeAddr     string
	MessagesDir    string
	MessagesLocale string

	AutoJoinRoom     string
	AutoJoinPassword string

	// DryRun logs outbound intents instead of writing them and acks them locally.
	DryRun bool
}

// LoadDotenv loads KEY=VALUE pairs from files (default ".env") without
// overriding variables that are already set. Missing files are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ReconnectMax:     3,
		ReconnectDelay:   2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
		SettleDelay:      500 * time.Millisecond,
		DedupeSize:       1024,
		DedupeTTL:        10 * time.Minute,
		BridgeAddr:       "127.0.0.1:7717",
	}

	cfg.WSURL = strings.TrimSpace(os.Getenv("ROOMLINK_WS_URL"))
	cfg.APIURL = strings.TrimSpace(os.Getenv("ROOMLINK_API_URL"))

	cfg.Token = strings.TrimSpace(os.Getenv("ROOMLINK_TOKEN"))
	cfg.UserID = strings.TrimSpace(os.Getenv("ROOMLINK_USER_ID"))
	cfg.Username = strings.TrimSpace(os.Getenv("ROOMLINK_USERNAME"))
	cfg.Avatar = strings.TrimSpace(os.Getenv("ROOMLINK_AVATAR"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.HistoryDSN = strings.TrimSpace(os.Getenv("HISTORY_DSN"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.MessagesLocale = strings.TrimSpace(os.Getenv("MESSAGES_LOCALE"))
	cfg.AutoJoinRoom = strings.TrimSpace(os.Getenv("ROOMLINK_AUTO_JOIN"))
	cfg.AutoJoinPassword = os.Getenv("ROOMLINK_AUTO_JOIN_PASSWORD")

	if v := strings.TrimSpace(os.Getenv("ROOMLINK_DRYRUN")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}

	if v, ok := os.LookupEnv("BRIDGE_ADDR"); ok {
		cfg.BridgeAddr = strings.TrimSpace(v)
	}

	if v := strings.TrimSpace(os.Getenv("ROOMLINK_RECONNECT_MAX")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectMax = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ROOMLINK_DEDUPE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DedupeSize = n
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ROOMLINK_RECONNECT_DELAY", &cfg.ReconnectDelay},
		{"ROOMLINK_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
		{"ROOMLINK_REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"ROOMLINK_SETTLE_DELAY", &cfg.SettleDelay},
		{"ROOMLINK_DEDUPE_TTL", &cfg.DedupeTTL},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(os.Getenv(d.key)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil && parsed >= 0 {
				*d.dst = parsed
			}
		}
	}

	if cfg.WSURL == "" {
		return nil, errors.New("ROOMLINK_WS_URL is required")
	}
	if cfg.APIURL == "" {
		return nil, errors.New("ROOMLINK_API_URL is required")
	}

	return cfg, nil
}
