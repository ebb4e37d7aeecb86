// Package config loads the meshline node configuration through viper.
// Every key has a default so a node runs with no config file at all;
// a YAML file can override any of them.
package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("codec", "opus")
	viper.SetDefault("framedurationms", 80)
	viper.SetDefault("gain", 1.0)
	viper.SetDefault("numchannels", 1)
	viper.SetDefault("capturesamplerate", 0)
	viper.SetDefault("lowlatency", false)
	viper.SetDefault("autostart", true)
	viper.SetDefault("metricsaddr", ":9090")
}

// LoadConfig sets the defaults and merges in the config file at
// configFilePath, if one exists. A missing file is fine, a malformed
// one is fatal.
func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}
