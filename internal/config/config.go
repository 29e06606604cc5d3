package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ChatLimits groups the tunables for chat rate limiting and auto-moderation.
type ChatLimits struct {
	MessageLimit     int
	MessageWindow    time.Duration
	ReactionLimit    int
	ReactionWindow   time.Duration
	AutoMuteStrikes  int
	AutoMuteDuration time.Duration
	StrikeWindow     time.Duration
	TypingTTL        time.Duration
	OnTimeWindow     time.Duration
}

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	ChannelBase       string
	Chat              ChatLimits
	ProfanityWords    []string
	AnalyticsCacheTTL time.Duration
	VideoStatsBaseURL string
	VideoStatsToken   string
	VideoStatsAccount string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MEMBRIA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Membria API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("chat.channel_base", "membria")
	v.SetDefault("chat.message_limit", 5)
	v.SetDefault("chat.message_window", "10s")
	v.SetDefault("chat.reaction_limit", 10)
	v.SetDefault("chat.reaction_window", "60s")
	v.SetDefault("chat.auto_mute_strikes", 3)
	v.SetDefault("chat.auto_mute_duration", "15m")
	v.SetDefault("chat.strike_window", "1h")
	v.SetDefault("chat.typing_ttl", "5s")
	v.SetDefault("chat.profanity_words", "damn,hell,crap,bastard")
	v.SetDefault("analytics.on_time_window", "5m")
	v.SetDefault("analytics.cache_ttl", "5m")

	limits := ChatLimits{
		MessageLimit:    v.GetInt("chat.message_limit"),
		ReactionLimit:   v.GetInt("chat.reaction_limit"),
		AutoMuteStrikes: v.GetInt("chat.auto_mute_strikes"),
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"chat.message_window", &limits.MessageWindow},
		{"chat.reaction_window", &limits.ReactionWindow},
		{"chat.auto_mute_duration", &limits.AutoMuteDuration},
		{"chat.strike_window", &limits.StrikeWindow},
		{"chat.typing_ttl", &limits.TypingTTL},
		{"analytics.on_time_window", &limits.OnTimeWindow},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	cacheTTL, err := time.ParseDuration(v.GetString("analytics.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid analytics cache ttl: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		ChannelBase:       v.GetString("chat.channel_base"),
		Chat:              limits,
		ProfanityWords:    splitWords(v.GetString("chat.profanity_words")),
		AnalyticsCacheTTL: cacheTTL,
		VideoStatsBaseURL: v.GetString("videostats.base_url"),
		VideoStatsToken:   v.GetString("videostats.token"),
		VideoStatsAccount: v.GetString("videostats.account"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.Chat.MessageLimit <= 0 {
		cfg.Chat.MessageLimit = 5
	}
	if cfg.Chat.ReactionLimit <= 0 {
		cfg.Chat.ReactionLimit = 10
	}
	if cfg.Chat.AutoMuteStrikes <= 0 {
		cfg.Chat.AutoMuteStrikes = 3
	}

	return cfg, nil
}

func splitWords(raw string) []string {
	parts := strings.Split(raw, ",")
	words := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return words
}
