package main

import (
	"github.com/rs/zerolog/log"

	cfg "imghost/src/configuration"
	"imghost/src/logging"
	server "imghost/src/server"
)

func main() {
	config := cfg.ReadProperties()
	logging.Setup(config.LogLevel)
	if err := server.RunServer(config); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
