package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/networking"
)

var codecsCmd = &cobra.Command{
	Use:   "codecs",
	Short: "List the codec names accepted by the codecs config key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range networking.CodecNames() {
			codec := networking.CodecMap[name]
			fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s %dHz %dch\n", name, codec.MimeType, codec.ClockRate, codec.Channels)
		}
	},
}
