package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("mc-relay"),
		kong.Description("Relays chat, joins and leaves between game server consoles and a Discord channel."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
