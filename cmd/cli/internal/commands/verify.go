package commands

import (
	"context"
	"fmt"
)

type VerifyCmd struct {
	ClientFlags `embed:""`

	UserID string `name:"user-id" help:"User identifier" required:""`
	Email  string `help:"User email" required:""`
}

func (c *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	res, err := c.client().Verify(ctx, c.UserID, c.Email)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	return printJSON(globals.out(), res)
}

type PublicKeyCmd struct {
	ClientFlags `embed:""`

	UserID string `name:"user-id" help:"User identifier" required:""`
}

func (c *PublicKeyCmd) Run(ctx context.Context, globals *Globals) error {
	key, err := c.client().PublicKey(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("failed to fetch public key: %w", err)
	}
	fmt.Fprint(globals.out(), key)
	return nil
}
