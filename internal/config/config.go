package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string `env:"APP_ENV" env-default:"dev"`
	HttpPort string `env:"HTTP_PORT" env-default:"8080"`
	DBPath   string `env:"DB_PATH" env-default:"data/depot.db"` // used when DBDriver=sqlite
	DBDriver string `env:"DB_DRIVER" env-default:"sqlite"`      // sqlite|postgres
	DBDsn    string `env:"DATABASE_URL"`                        // used when DBDriver=postgres

	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `env:"LOG_JSON" env-default:"true"`

	AWS   AWS
	Infra Infra

	CommandAllowlist []string      `env:"COMMAND_ALLOWLIST" env-separator:"," env-default:"aws,npx,npm,node,cdk"`
	CommandTimeout   time.Duration `env:"COMMAND_TIMEOUT" env-default:"5m"`
	CommandKillGrace time.Duration `env:"COMMAND_KILL_GRACE" env-default:"5s"`

	UploadURLTTL   time.Duration `env:"UPLOAD_URL_TTL" env-default:"15m"`
	CDNDisableWait time.Duration `env:"CDN_DISABLE_WAIT" env-default:"25m"`
}

type AWS struct {
	Region    string `env:"AWS_REGION" env-default:"us-east-1"`
	Endpoint  string `env:"AWS_ENDPOINT_URL"` // optional, for S3-compatible/local stacks
	AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

// Infra configures the infrastructure-as-code toolchain the deployment runner drives.
type Infra struct {
	Dir                 string        `env:"INFRA_DIR" env-default:"infrastructure"`
	Command             string        `env:"INFRA_COMMAND" env-default:"npx"`
	OutputsFile         string        `env:"INFRA_OUTPUTS_FILE" env-default:"cdk-outputs.json"`
	DeployTimeout       time.Duration `env:"DEPLOY_TIMEOUT" env-default:"5m"`
	RequireFreshOutputs bool          `env:"DEPLOY_REQUIRE_FRESH_OUTPUTS" env-default:"true"`
	ErrorPatternsFile   string        `env:"ERROR_PATTERNS_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
