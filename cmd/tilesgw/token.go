package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/tiles-iot/tiles-gateway/internal/auth"
	"github.com/tiles-iot/tiles-gateway/internal/infrastructure/config"
)

// runToken prints a signed API bearer token for the subject named in args.
// The signing secret comes from -secret or, failing that, the loaded
// configuration (api.jwt.secret / TILES_JWT_SECRET).
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	role := fs.String("role", string(auth.RoleOperator), "token role: viewer or operator")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	secret := fs.String("secret", "", "signing secret (default: api.jwt.secret from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tilesgw token [-role viewer|operator] [-ttl 24h] <subject>")
	}

	key := *secret
	if key == "" {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		key = cfg.API.JWT.Secret
	}

	token, err := auth.GenerateAccessToken(fs.Arg(0), auth.Role(*role), key, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
