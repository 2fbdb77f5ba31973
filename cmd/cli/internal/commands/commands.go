package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wolfeidau/userpki/internal/client"
)

type Globals struct {
	Debug   bool
	Version string

	Stdout io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// ClientFlags are shared by every command that talks to the server.
type ClientFlags struct {
	Server       string        `help:"Server URL" default:"http://localhost:8080" env:"PKI_SERVER"`
	Timeout      time.Duration `help:"Request timeout" default:"1m"`
	MaxRetryTime time.Duration `help:"How long to retry rate limited requests, 0 disables" default:"10s"`
}

func (f *ClientFlags) client() *client.Client {
	return client.NewClient(client.Config{
		ServerURL:    f.Server,
		Timeout:      f.Timeout,
		MaxRetryTime: f.MaxRetryTime,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
