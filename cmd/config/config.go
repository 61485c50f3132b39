package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/utils"
)

// Load the client config file into viper, on top of the defaults.
// A missing config file is not an error.
func LoadConfig(configFilePath string) error {
	utils.SetViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			return fmt.Errorf("error during config read: %w", err)
		}
	}

	if viper.GetString("relayurl") == "" {
		return errors.New("no relay URL specified, set relayurl in the config file or pass --relay")
	}
	return nil
}
