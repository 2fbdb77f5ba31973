package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/userpki/cmd/cli/internal/commands"
	"github.com/wolfeidau/userpki/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Issue     commands.IssueCmd     `cmd:"" help:"Issue a certificate and save the private key"`
		Verify    commands.VerifyCmd    `cmd:"" help:"Verify the certificate for a user and email"`
		PublicKey commands.PublicKeyCmd `cmd:"" name:"public-key" help:"Print the public key for a user"`
		Debug     bool                  `help:"Enable debug mode." env:"PKI_DEBUG"`
		Version   kong.VersionFlag
	}
)

func main() {
	cmd := kong.Parse(&cli,
		kong.Description("Client for the user identity certificate service."),
		kong.Vars{
			"version": version,
		})

	ctx := logger.Setup(cli.Debug).WithContext(context.Background())
	cmd.BindTo(ctx, (*context.Context)(nil))

	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
