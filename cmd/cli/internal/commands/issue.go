package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/userpki/internal/pki"
)

// IssueCmd requests a new certificate and saves the private key locally.
type IssueCmd struct {
	ClientFlags `embed:""`

	UserID string `name:"user-id" help:"User identifier" required:""`
	Email  string `help:"User email" required:""`
	KeyOut string `name:"key-out" help:"File to write the private key to" default:"private-key.pem" type:"path"`
	Force  bool   `help:"Overwrite an existing key file" default:"false"`
}

func (c *IssueCmd) Run(ctx context.Context, globals *Globals) error {
	if !c.Force {
		if _, err := os.Stat(c.KeyOut); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", c.KeyOut)
		}
	}

	res, err := c.client().Issue(ctx, c.UserID, c.Email)
	if err != nil {
		return fmt.Errorf("failed to issue certificate: %w", err)
	}

	if err := writePrivateKey(c.KeyOut, []byte(res.PrivateKey)); err != nil {
		return err
	}

	fingerprint, err := pki.Fingerprint(res.Certificate.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to fingerprint public key: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("serial", res.Certificate.SerialNumber).Str("key_out", c.KeyOut).Msg("Certificate issued")

	w := globals.out()
	fmt.Fprintln(w, res.Message)
	fmt.Fprintf(w, "Serial:      %s\n", res.Certificate.SerialNumber)
	fmt.Fprintf(w, "Fingerprint: %s\n", fingerprint)
	fmt.Fprintf(w, "Valid:       %s to %s\n", res.Certificate.ValidFrom.Format("2006-01-02"), res.Certificate.ValidTo.Format("2006-01-02"))
	fmt.Fprintf(w, "Private key: %s\n", c.KeyOut)

	return nil
}

// writePrivateKey writes via a temp file in the same directory so a partial key is never left behind.
func writePrivateKey(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return fmt.Errorf("failed to create temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set key file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	return nil
}
