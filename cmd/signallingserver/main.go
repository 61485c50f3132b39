package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/cmd/signallingserver/config"
	"github.com/Honorable-Knights-of-the-Roundtable/meshroom/internal/relayserver"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	if err := config.LoadConfig(*configFilePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l, logFilePointer, err := config.ConfigureLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error while configuring logger:", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	hub := relayserver.NewHub(l)
	go hub.Run()

	listenAddress := viper.GetString("localaddress")
	srv := &http.Server{
		Addr:    listenAddress,
		Handler: relayserver.NewRouter(hub, l),
	}

	go func() {
		l.Info().Str("listenAddress", listenAddress).Msg("starting signalling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	l.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	hub.Stop()
	l.Info().Msg("server exited")
}
