package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "invest"
)

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
// 未显式指定路径且默认配置文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		switch {
		case missing && explicit:
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		case missing:
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Session.Risk = strings.ToLower(strings.TrimSpace(cfg.Session.Risk))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.prefix", "/api/v1")
	v.SetDefault("api.timeout", "60s")

	v.SetDefault("session.amount", 10000)
	v.SetDefault("session.risk", "balanced")
	v.SetDefault("session.symbols", "VOO,QQQM,IWM,EFA,EMB,AGG")
	v.SetDefault("session.universe_count", 100)
	v.SetDefault("session.lookback_days", 365*3)
	v.SetDefault("session.universe_refresh", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.name", "invest_journal")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("sweep.amounts", []float64{1000, 5000, 10000, 25000, 50000})
	v.SetDefault("sweep.risks", []string{"conservative", "balanced", "aggressive"})
	v.SetDefault("sweep.symbols", []string{"VOO", "QQQM", "IWM", "EFA", "EMB", "AGG"})
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("sweep.top", 5)
	v.SetDefault("sweep.prepare", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
