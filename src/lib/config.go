package lib

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/robfig/cron/v3"
)

// Config contains runtime configuration loaded from environment variables.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	HubName     string
	SeedFile    string

	SyncSchedule    string
	WindowPast      time.Duration
	WindowFuture    time.Duration
	FeedConcurrency int

	MirrorCallDelay time.Duration
	CMSCallDelay    time.Duration
	CredentialTTL   time.Duration

	GoogleClientEmail string
	GooglePrivateKey  string

	Meetup MeetupConfig

	WebflowToken        string
	WebflowCollectionID string

	NostrRelayURL string
	NostrPrivKey  string
	NostrPubKey   string
}

// MeetupConfig is only populated when MEETUP_PRIVATE_KEY is set.
type MeetupConfig struct {
	PrivateKey         string
	ConsumerKey        string
	AuthorizedMemberID string
	SigningKeyID       string
}

func (m MeetupConfig) Enabled() bool {
	return m.PrivateKey != ""
}

func LoadConfig() (Config, error) {
	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		HTTPAddr:        getOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        getOrDefault("LOG_LEVEL", "INFO"),
		HubName:         strings.TrimSpace(os.Getenv("HUB_NAME")),
		SeedFile:        strings.TrimSpace(os.Getenv("SEED_FILE")),
		SyncSchedule:    strings.TrimSpace(os.Getenv("SYNC_SCHEDULE")),
		WindowPast:      time.Duration(getIntOrDefault("SYNC_WINDOW_PAST_DAYS", 30)) * 24 * time.Hour,
		WindowFuture:    time.Duration(getIntOrDefault("SYNC_WINDOW_FUTURE_DAYS", 60)) * 24 * time.Hour,
		FeedConcurrency: getIntOrDefault("FEED_CONCURRENCY", 1),
		MirrorCallDelay: time.Duration(getIntOrDefault("MIRROR_CALL_DELAY_MS", 150)) * time.Millisecond,
		CMSCallDelay:    time.Duration(getIntOrDefault("CMS_CALL_DELAY_MS", 1000)) * time.Millisecond,
		CredentialTTL:   time.Duration(getIntOrDefault("CREDENTIAL_TTL_SECONDS", 300)) * time.Second,

		GoogleClientEmail: strings.TrimSpace(os.Getenv("GOOGLE_CREDENTIALS_CLIENT_EMAIL")),
		// Keys stored in single-line env vars carry literal \n sequences.
		GooglePrivateKey: strings.ReplaceAll(os.Getenv("GOOGLE_CREDENTIALS_PRIVATE_KEY"), `\n`, "\n"),

		Meetup: MeetupConfig{
			PrivateKey:         strings.ReplaceAll(os.Getenv("MEETUP_PRIVATE_KEY"), `\n`, "\n"),
			ConsumerKey:        strings.TrimSpace(os.Getenv("MEETUP_CONSUMER_KEY")),
			AuthorizedMemberID: strings.TrimSpace(os.Getenv("MEETUP_AUTHORIZED_MEMBER_ID")),
			SigningKeyID:       strings.TrimSpace(os.Getenv("MEETUP_SIGNING_KEY_ID")),
		},

		WebflowToken:        strings.TrimSpace(os.Getenv("WEBFLOW_TOKEN")),
		WebflowCollectionID: strings.TrimSpace(os.Getenv("EVENTS_COLLECTION_ID")),

		NostrRelayURL: strings.TrimSpace(os.Getenv("NOSTR_RELAY_URL")),
		NostrPrivKey:  strings.ToLower(strings.TrimSpace(os.Getenv("NOSTR_PRIVKEY"))),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.HubName == "" {
		return Config{}, fmt.Errorf("HUB_NAME is required")
	}
	if cfg.SyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
			return Config{}, fmt.Errorf("SYNC_SCHEDULE is invalid: %w", err)
		}
	}
	if cfg.WindowPast <= 0 {
		return Config{}, fmt.Errorf("SYNC_WINDOW_PAST_DAYS must be > 0")
	}
	if cfg.WindowFuture <= 0 {
		return Config{}, fmt.Errorf("SYNC_WINDOW_FUTURE_DAYS must be > 0")
	}
	if cfg.FeedConcurrency <= 0 {
		return Config{}, fmt.Errorf("FEED_CONCURRENCY must be > 0")
	}
	if cfg.MirrorCallDelay < 0 {
		return Config{}, fmt.Errorf("MIRROR_CALL_DELAY_MS must be >= 0")
	}
	if cfg.CMSCallDelay < 0 {
		return Config{}, fmt.Errorf("CMS_CALL_DELAY_MS must be >= 0")
	}
	if cfg.CredentialTTL <= 0 {
		return Config{}, fmt.Errorf("CREDENTIAL_TTL_SECONDS must be > 0")
	}
	if (cfg.GoogleClientEmail == "") != (cfg.GooglePrivateKey == "") {
		return Config{}, fmt.Errorf("GOOGLE_CREDENTIALS_CLIENT_EMAIL and GOOGLE_CREDENTIALS_PRIVATE_KEY must be set together")
	}

	if cfg.Meetup.Enabled() {
		if cfg.Meetup.ConsumerKey == "" {
			return Config{}, fmt.Errorf("MEETUP_CONSUMER_KEY is required")
		}
		if cfg.Meetup.AuthorizedMemberID == "" {
			return Config{}, fmt.Errorf("MEETUP_AUTHORIZED_MEMBER_ID is required")
		}
		if cfg.Meetup.SigningKeyID == "" {
			return Config{}, fmt.Errorf("MEETUP_SIGNING_KEY_ID is required")
		}
	}

	if (cfg.WebflowToken == "") != (cfg.WebflowCollectionID == "") {
		return Config{}, fmt.Errorf("WEBFLOW_TOKEN and EVENTS_COLLECTION_ID must be set together")
	}

	if cfg.NostrRelayURL != "" {
		if cfg.NostrPrivKey == "" {
			return Config{}, fmt.Errorf("NOSTR_PRIVKEY is required when NOSTR_RELAY_URL is set")
		}
		pub, err := nostr.GetPublicKey(cfg.NostrPrivKey)
		if err != nil {
			return Config{}, fmt.Errorf("NOSTR_PRIVKEY is invalid: %w", err)
		}
		cfg.NostrPubKey = strings.ToLower(pub)
	}

	return cfg, nil
}

// GoogleEnabled reports whether service-account credentials are configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientEmail != ""
}

func getOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getIntOrDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
