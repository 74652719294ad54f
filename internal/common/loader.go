package common

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "docflow"

	// EnvPrefix is the prefix for environment variables read through viper.
	EnvPrefix = "DOCFLOW"
)

// Loader layers a config file, DOCFLOW_* env vars and bound flags over LoadConfig defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader uses the global viper instance so cobra flag bindings apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith wraps a dedicated viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load resolves configuration. configFile may be empty to search the default paths.
func (l *Loader) Load(configFile string) (*Config, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.addConfigPaths()
	}

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the merged config file, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// setDefaults seeds viper with the env-derived defaults so every key is known
// to AutomaticEnv and Unmarshal.
func (l *Loader) setDefaults() error {
	b, err := yaml.Marshal(LoadConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	l.v.SetConfigType("yaml")
	if err := l.v.ReadConfig(bytes.NewReader(b)); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	return nil
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		l.v.AddConfigPath(filepath.Join(configDir, "docflow"))
	} else if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", "docflow"))
	}
	l.v.AddConfigPath("/etc/docflow")
}

// DumpYAML renders cfg with secrets masked.
func DumpYAML(cfg *Config) ([]byte, error) {
	c := *cfg
	c.LLM.OpenAI.APIKey = mask(c.LLM.OpenAI.APIKey)
	c.LLM.Anthropic.APIKey = mask(c.LLM.Anthropic.APIKey)
	c.Database.DSN = mask(c.Database.DSN)
	return yaml.Marshal(&c)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
