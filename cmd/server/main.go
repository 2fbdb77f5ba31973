package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/userpki/cmd/server/internal/commands"
	"github.com/wolfeidau/userpki/internal/config"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool            `help:"Enable debug mode." env:"PKI_DEBUG"`
		Config  kong.ConfigFlag `help:"YAML configuration file." env:"PKI_CONFIG"`
		Version kong.VersionFlag
		Server  commands.ServerCmd `cmd:"" default:"withargs" help:"Start the certificate API server"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Description("User identity certificate service."),
		kong.Configuration(config.YAML, "/etc/userpki/config.yaml"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
