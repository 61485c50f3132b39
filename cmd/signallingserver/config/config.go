package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/utils"
)

// Load the relay server config file into viper, on top of the defaults.
// A missing config file is not an error.
func LoadConfig(configFilePath string) error {
	utils.SetRelayServerViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error during config read: %w", err)
		}
	}
	return nil
}

// Build the server logger from the loglevel and logfile keys: a console writer
// on stdout, or JSON lines when a log file is set.
//
// The returned file, if any, should be closed on exit.
func ConfigureLogger() (zerolog.Logger, *os.File, error) {
	level := zerolog.Disabled
	if name := viper.GetString("loglevel"); name != "none" {
		var err error
		level, err = zerolog.ParseLevel(name)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("unexpected log level %q", name)
		}
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stdout}
	var logFilePointer *os.File
	if logFile := viper.GetString("logfile"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		w, logFilePointer = f, f
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
	return logger, logFilePointer, nil
}
