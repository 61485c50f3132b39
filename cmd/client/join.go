package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/media"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/room"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/signalling"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/utils"
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and stay until interrupted",
	Long: `Join a room, send local audio to every other participant and receive theirs.

Examples:
  meshroom join standup
  meshroom join standup --relay wss://relay.example/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return joinRoom(ctx, args[0])
	},
}

func joinRoom(ctx context.Context, name string) error {
	logger := slog.Default()

	codecs, err := utils.GetUserAuthorizedCodecs(viper.GetStringSlice("codecs"))
	if err != nil {
		return err
	}
	transports, err := networking.NewPionTransportFactory(networking.TransportFactoryConfig{
		ICEServers: viper.GetStringSlice("ICEServers"),
		Codecs:     codecs,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	relay, err := signalling.NewWebsocketRelay(viper.GetString("relayurl"), logger)
	if err != nil {
		return err
	}

	source, err := mediaSource(logger)
	if err != nil {
		return err
	}

	sink := media.MultiSink{media.LogSink{Logger: logger}}
	if viper.GetBool("tiles") {
		sink = append(sink, media.NewTileBoard(os.Stdout, logger))
	}
	if dir := viper.GetString("record.dir"); dir != "" {
		recorder, err := media.NewRecordingSink(dir, logger)
		if err != nil {
			return err
		}
		defer recorder.Close()
		sink = append(sink, recorder)
	}

	session, err := room.Join(ctx, name, room.Config{
		Relay:           relay,
		Transports:      transports,
		Media:           source,
		Sink:            sink,
		JoinTimeout:     time.Duration(viper.GetInt("joinTimeout")) * time.Second,
		HeartbeatPeriod: time.Duration(viper.GetInt("heartbeatPeriod")) * time.Millisecond,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("joined %s as %s, press Ctrl+C to leave\n", session.Room(), session.ID())
	<-ctx.Done()

	for _, p := range session.Peers() {
		logger.Debug("peer at leave", "peer", p.PeerID, "state", p.Negotiation, "connectivity", p.Connectivity, "rtt", p.RTT)
	}
	session.Leave()
	return nil
}

func mediaSource(logger *slog.Logger) (media.Source, error) {
	volume := media.NewVolume(viper.GetFloat64("media.volume"))
	switch kind := viper.GetString("media.source"); kind {
	case "tone":
		source := media.NewToneSource(viper.GetFloat64("media.frequency"), logger)
		source.Volume = volume
		return source, nil
	case "wav":
		source := media.NewWAVFileSource(viper.GetString("media.file"), logger)
		source.Volume = volume
		return source, nil
	default:
		return nil, fmt.Errorf("unknown media source %q, expected tone or wav", kind)
	}
}
