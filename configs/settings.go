package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Settings holds everything the arena agent needs to build its clients.
type Settings struct {
	Service ServiceSettings `mapstructure:"service"`
	Backend BackendSettings `mapstructure:"backend"`
	HTTP    HTTPSettings    `mapstructure:"http"`
	Chain   ChainSettings   `mapstructure:"chain"`
	Journal JournalSettings `mapstructure:"journal"`
	Keys    KeySettings     `mapstructure:"keys"`
	Nats    NatsSettings    `mapstructure:"nats"`
	Match   MatchSettings   `mapstructure:"match"`
	Monitor MonitorSettings `mapstructure:"monitor"`
}

type ServiceSettings struct {
	Port           string        `mapstructure:"port" validate:"required,numeric"`
	RateLimit      int           `mapstructure:"rate_limit" validate:"gt=0"`
	JWTSecret      string        `mapstructure:"jwt_secret" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	FlowTimeout    time.Duration `mapstructure:"flow_timeout" validate:"gte=0"`
}

// BackendSettings points at the KANA backend. APIBaseURL may carry the
// /api/kana suffix the web client uses; Root strips it.
type BackendSettings struct {
	APIBaseURL     string `mapstructure:"api_base_url" validate:"required,url"`
	TournamentPath string `mapstructure:"tournament_path" validate:"required,startswith=/"`
}

func (b BackendSettings) Root() string {
	root := strings.TrimRight(b.APIBaseURL, "/")
	return strings.TrimSuffix(root, "/api/kana")
}

func (b BackendSettings) TournamentURL() string {
	return b.Root() + b.TournamentPath
}

type HTTPSettings struct {
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
}

// ChainSettings configures the INK token binding. An empty RPCURL leaves the
// ledger uninitialised; paid flows then fail with a not-initialised error.
type ChainSettings struct {
	RPCURL        string `mapstructure:"rpc_url" validate:"omitempty,url"`
	TokenAddress  string `mapstructure:"token_address" validate:"omitempty,eth_addr"`
	EscrowAddress string `mapstructure:"escrow_address" validate:"omitempty,eth_addr"`
	WalletKey     string `mapstructure:"wallet_key"`
}

func (c ChainSettings) Enabled() bool {
	return c.RPCURL != "" && c.TokenAddress != "" && c.EscrowAddress != ""
}

type JournalSettings struct {
	Driver      string `mapstructure:"driver" validate:"oneof=memory postgres mongo"`
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Driver postgres"`
	MongoURI    string `mapstructure:"mongo_uri" validate:"required_if=Driver mongo"`
}

type KeySettings struct {
	Driver    string        `mapstructure:"driver" validate:"oneof=memory redis"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPass string        `mapstructure:"redis_password"`
	RedisDB   int           `mapstructure:"redis_db"`
	TTL       time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type NatsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Topic   string `mapstructure:"topic" validate:"required"`
}

type MatchSettings struct {
	Grading         string `mapstructure:"grading" validate:"oneof=exact substring edit-distance"`
	QuestionSeconds int    `mapstructure:"question_seconds" validate:"gte=0"`
}

type MonitorSettings struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", "8090")
	v.SetDefault("service.rate_limit", 120)
	v.SetDefault("service.jwt_secret", "")
	v.SetDefault("service.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("service.flow_timeout", 5*time.Minute)

	v.SetDefault("backend.api_base_url", "http://localhost:10000")
	v.SetDefault("backend.tournament_path", "/api/tournaments")

	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.attempt_timeout", 10*time.Second)
	v.SetDefault("http.retry_base_delay", time.Second)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.escrow_address", "")
	v.SetDefault("chain.wallet_key", "")

	v.SetDefault("journal.driver", "memory")
	v.SetDefault("journal.postgres_url", "")
	v.SetDefault("journal.mongo_uri", "")

	v.SetDefault("keys.driver", "memory")
	v.SetDefault("keys.redis_addr", "")
	v.SetDefault("keys.redis_password", "")
	v.SetDefault("keys.redis_db", 0)
	v.SetDefault("keys.ttl", 10*time.Minute)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4224")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.topic", "arena.service")

	v.SetDefault("match.grading", "substring")
	v.SetDefault("match.question_seconds", 0)

	v.SetDefault("monitor.interval", 30*time.Second)
}

// LoadSettings reads defaults, then the optional config file at path, then the
// environment. Nested keys map to upper-case env names with "." replaced by
// "_" (CHAIN_RPC_URL). The backend URL also honours KANA_API_BASE_URL and
// VITE_KANA_API_BASE_URL.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("backend.api_base_url", "BACKEND_API_BASE_URL", "KANA_API_BASE_URL", "VITE_KANA_API_BASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("service.jwt_secret", "SERVICE_JWT_SECRET", "JWT_SECRET_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("service.rate_limit", "SERVICE_RATE_LIMIT", "RATE_LIMIT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("nats.url", "NATS_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("nats.token", "NATS_TOKEN"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
