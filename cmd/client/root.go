package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/utils"
)

var flagConfigFilePath string

var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Join audio rooms where every participant connects directly to every other",
	Long: `meshroom is a command-line client for mesh audio rooms. Participants find each
other through a websocket relay and then exchange audio over direct WebRTC
connections, one per pair of participants.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "config.yaml", "Set the file path to the config file.")
	rootCmd.PersistentFlags().String("loglevel", "", "Log level: none, error, warn, info or debug.")
	rootCmd.PersistentFlags().String("relay", "", "Websocket URL of the signaling relay.")
	viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
	viper.BindPFlag("relayurl", rootCmd.PersistentFlags().Lookup("relay"))

	rootCmd.AddCommand(joinCmd, codecsCmd)
}

// Load the config and install the default logger. The returned function
// closes the log file, if any.
func setup() (func(), error) {
	if err := config.LoadConfig(flagConfigFilePath); err != nil {
		return nil, err
	}
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		return nil, fmt.Errorf("error while configuring default logger: %w", err)
	}
	return func() {
		if logFilePointer != nil {
			logFilePointer.Close()
		}
	}, nil
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
