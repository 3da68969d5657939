package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// TokenConfig holds secrets and lifetimes for every credential the service
// issues.
type TokenConfig struct {
	Issuer                     string        `env:"TOKEN_ISSUER"                  envDefault:"fleet-identity"`
	AccessTokenSecret          string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret         string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTokenExpiresIn       time.Duration `env:"ACCESS_TOKEN_EXPIRES_IN"       envDefault:"15m"`
	RefreshTokenExpiresIn      time.Duration `env:"REFRESH_TOKEN_EXPIRES_IN"      envDefault:"168h"`
	VerificationTokenExpiresIn time.Duration `env:"VERIFICATION_TOKEN_EXPIRES_IN" envDefault:"24h"`
	PasswordResetOTPExpiresIn  time.Duration `env:"PASSWORD_RESET_OTP_EXPIRES_IN" envDefault:"15m"`
}

// IdentityServiceConfig is the top-level configuration, parsed from the
// environment.
type IdentityServiceConfig struct {
	HTTPAddr   string `env:"HTTP_ADDR"    envDefault:":8080"`
	MongoURI   string `env:"MONGO_URI"    envDefault:"mongodb://localhost:27017"`
	MongoDB    string `env:"MONGO_DB"     envDefault:"fleet_identity"`
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	Token      TokenConfig
}

// NewIdentityServiceConfig parses the configuration from environment
// variables and terminates on invalid values.
func NewIdentityServiceConfig(logger *zerolog.Logger) *IdentityServiceConfig {
	cfg, err := env.ParseAs[IdentityServiceConfig]()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse environment variables")
	}

	if err := cfg.validate(); err != nil {
		logger.Fatal().Err(err).Msg("failed to validate identity service configuration")
	}

	return &cfg
}

func (c *IdentityServiceConfig) validate() error {
	if c.Token.AccessTokenSecret == "" {
		return fmt.Errorf("missing ACCESS_TOKEN_SECRET environment variable")
	}
	if c.Token.RefreshTokenSecret == "" {
		return fmt.Errorf("missing REFRESH_TOKEN_SECRET environment variable")
	}
	if c.Token.AccessTokenSecret == c.Token.RefreshTokenSecret {
		return fmt.Errorf("access and refresh token secrets must differ")
	}

	return nil
}
