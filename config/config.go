package config

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

// DBConfig database connection settings.
type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// EvolutionConfig settings for the upstream WhatsApp provider API.
type EvolutionConfig struct {
	BaseURL     string `yaml:"base_url" json:"base_url"`
	APIKey      string `yaml:"apikey" json:"apikey"`
	WebhookBase string `yaml:"webhook_base" json:"webhook_base"`
}

// OpenaiConfig settings for the assistant backend. The per-client key
// stored in the database takes precedence over this fallback.
type OpenaiConfig struct {
	APIKey string `yaml:"apikey" json:"apikey"`
}

type SmtpConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	User       string `yaml:"user" json:"user"`
	Passwd     string `yaml:"passwd" json:"passwd"`
	From       string `yaml:"from" json:"from"`
	AdminEmail string `yaml:"admin_email" json:"admin_email"`
}

type AppConfig struct {
	System    SysConfig       `yaml:"system" json:"system"`
	Web       WebConfig       `yaml:"web" json:"web"`
	Database  DBConfig        `yaml:"database" json:"database"`
	Evolution EvolutionConfig `yaml:"evolution" json:"evolution"`
	Openai    OpenaiConfig    `yaml:"openai" json:"openai"`
	Smtp      SmtpConfig      `yaml:"smtp" json:"smtp"`
	Logger    LogConfig       `yaml:"logger" json:"logger"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetPrivateDir() string {
	return path.Join(c.System.Workdir, "private")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(path.Join(c.System.Workdir, "logs"), 0755)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "data"), 0755)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "private"), 0755)
	_ = os.MkdirAll(path.Join(c.System.Workdir, "metrics"), 0755)
}

func setEnvValue(name string, f func(v string)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(evalue)
	}
}

func setEnvBoolValue(name string, f func(v bool)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(evalue == "true" || evalue == "1" || evalue == "on")
	}
}

func setEnvIntValue(name string, f func(v int)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(cast.ToInt(evalue))
	}
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "EvolutionAssistant",
		Location: "America/Argentina/Buenos_Aires",
		Workdir:  "/var/evolution-assistant",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   8001,
		Secret: "9b6de5cc-assistant-1393-admin-87e43ac8-secret",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "evolution_assistant",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
		Debug:    false,
	},
	Evolution: EvolutionConfig{
		BaseURL:     "http://127.0.0.1:8080",
		APIKey:      "",
		WebhookBase: "http://127.0.0.1:8001",
	},
	Openai: OpenaiConfig{
		APIKey: "",
	},
	Smtp: SmtpConfig{
		Host: "",
		Port: 587,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/evolution-assistant/evolution-assistant.log",
	},
}

// LoadConfig reads the YAML config file and applies EA_* environment
// overrides. A missing file falls back to DefaultAppConfig.
func LoadConfig(cfile string) *AppConfig {
	// development defaults
	cfg := DefaultAppConfig
	if cfile != "" {
		data, err := os.ReadFile(cfile)
		if err == nil {
			cfg = new(AppConfig)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "config parse error: %v\n", err)
				cfg = DefaultAppConfig
			}
		}
	}

	setEnvValue("EA_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvBoolValue("EA_SYSTEM_DEBUG", func(v bool) { cfg.System.Debug = v })

	setEnvValue("EA_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvValue("EA_WEB_SECRET", func(v string) { cfg.Web.Secret = v })
	setEnvIntValue("EA_WEB_PORT", func(v int) { cfg.Web.Port = v })

	setEnvValue("EA_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("EA_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvIntValue("EA_DB_PORT", func(v int) { cfg.Database.Port = v })
	setEnvValue("EA_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("EA_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("EA_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvBoolValue("EA_DB_DEBUG", func(v bool) { cfg.Database.Debug = v })

	setEnvValue("EA_EVOLUTION_API_URL", func(v string) { cfg.Evolution.BaseURL = v })
	setEnvValue("EA_EVOLUTION_API_KEY", func(v string) { cfg.Evolution.APIKey = v })
	setEnvValue("EA_WEBHOOK_BASE_URL", func(v string) { cfg.Evolution.WebhookBase = v })

	setEnvValue("EA_OPENAI_API_KEY", func(v string) { cfg.Openai.APIKey = v })

	setEnvValue("EA_SMTP_HOST", func(v string) { cfg.Smtp.Host = v })
	setEnvIntValue("EA_SMTP_PORT", func(v int) { cfg.Smtp.Port = v })
	setEnvValue("EA_SMTP_USER", func(v string) { cfg.Smtp.User = v })
	setEnvValue("EA_SMTP_PWD", func(v string) { cfg.Smtp.Passwd = v })
	setEnvValue("EA_SMTP_FROM", func(v string) { cfg.Smtp.From = v })
	setEnvValue("EA_ADMIN_EMAIL", func(v string) { cfg.Smtp.AdminEmail = v })

	setEnvValue("EA_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })
	setEnvBoolValue("EA_LOGGER_FILE_ENABLE", func(v bool) { cfg.Logger.FileEnable = v })

	cfg.initDirs()
	return cfg
}
