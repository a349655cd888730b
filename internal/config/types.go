package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

// Config 聚合了客户端运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	API      APIConfig      `mapstructure:"api"`
	Session  SessionConfig  `mapstructure:"session"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// APIConfig 描述推荐服务的访问地址，启动后不可变更。
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Prefix  string        `mapstructure:"prefix"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig 提供会话初始值。
type SessionConfig struct {
	Amount          float64 `mapstructure:"amount"`
	Risk            string  `mapstructure:"risk"`
	Symbols         string  `mapstructure:"symbols"`
	UniverseCount   int     `mapstructure:"universe_count"`
	LookbackDays    int     `mapstructure:"lookback_days"`
	UniverseRefresh string  `mapstructure:"universe_refresh"`
}

// ServerConfig 控制本地控制接口。
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 管理操作日志所用的内存数据库。
type DatabaseConfig struct {
	Name         string `mapstructure:"name"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SweepConfig 控制批量推荐扫描。
type SweepConfig struct {
	Amounts     []float64 `mapstructure:"amounts"`
	Risks       []string  `mapstructure:"risks"`
	Symbols     []string  `mapstructure:"symbols"`
	Concurrency int       `mapstructure:"concurrency"`
	Top         int       `mapstructure:"top"`
	Prepare     bool      `mapstructure:"prepare"`
}

var validRisks = map[string]struct{}{
	"conservative": {},
	"balanced":     {},
	"aggressive":   {},
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.API.BaseURL == "" {
		err = multierr.Append(err, errors.New("api.base_url 不能为空"))
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		err = multierr.Append(err, fmt.Errorf("api.base_url 必须以 http:// 或 https:// 开头: %q", c.API.BaseURL))
	}
	if c.API.Prefix != "" && !strings.HasPrefix(c.API.Prefix, "/") {
		err = multierr.Append(err, errors.New("api.prefix 必须以 / 开头"))
	}
	if c.API.Timeout < 0 {
		err = multierr.Append(err, errors.New("api.timeout 不能为负"))
	}
	if _, ok := validRisks[strings.ToLower(c.Session.Risk)]; !ok {
		err = multierr.Append(err, fmt.Errorf("session.risk 无效: %q", c.Session.Risk))
	}
	if c.Session.UniverseCount <= 0 {
		err = multierr.Append(err, errors.New("session.universe_count 必须大于0"))
	}
	if c.Session.LookbackDays <= 0 {
		err = multierr.Append(err, errors.New("session.lookback_days 必须大于0"))
	}
	if schedule := strings.TrimSpace(c.Session.UniverseRefresh); schedule != "" {
		if _, parseErr := cron.ParseStandard(schedule); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("session.universe_refresh 不是合法的 cron 表达式: %w", parseErr))
		}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		err = multierr.Append(err, errors.New("server.port 必须位于[1,65535]"))
	}
	if c.Database.Name == "" {
		err = multierr.Append(err, errors.New("database.name 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Sweep.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("sweep.concurrency 必须大于0"))
	}
	if c.Sweep.Top < 0 {
		err = multierr.Append(err, errors.New("sweep.top 不能为负"))
	}
	for _, amount := range c.Sweep.Amounts {
		if amount <= 0 {
			err = multierr.Append(err, fmt.Errorf("sweep.amounts 必须为正: %v", amount))
		}
	}
	for _, risk := range c.Sweep.Risks {
		if _, ok := validRisks[strings.ToLower(risk)]; !ok {
			err = multierr.Append(err, fmt.Errorf("sweep.risks 包含无效值: %q", risk))
		}
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// Endpoint 返回带路径前缀的服务根地址。
func (c APIConfig) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + strings.TrimRight(c.Prefix, "/")
}
