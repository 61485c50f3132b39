package utils

import "github.com/spf13/viper"

// Set the viper defaults for a meshroom client.
func SetViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("relayurl", "ws://localhost:1066/ws")
	viper.SetDefault("joinTimeout", 10)
	viper.SetDefault("ICEServers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	viper.SetDefault("codecs", []string{"CodecPCMU8000Mono", "CodecOpus48000Stereo", "CodecOpus48000Mono"})
	viper.SetDefault("heartbeatPeriod", 5000)
	viper.SetDefault("media.source", "tone")
	viper.SetDefault("media.file", "")
	viper.SetDefault("media.frequency", 440)
	viper.SetDefault("media.volume", 1.0)
	viper.SetDefault("record.dir", "")
	viper.SetDefault("tiles", true)
}

// Set the viper defaults for the relay server.
func SetRelayServerViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("localaddress", "localhost:1066")
}
