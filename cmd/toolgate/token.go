package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/gateway"
)

var (
	errNoHMACKey  = errors.New("token: identity.hmac_key is not configured")
	errNoTokenID  = errors.New("token: token has no jti and cannot be revoked")
	errNoSharedKV = errors.New("token: revocation needs redis.addr; process memory is not shared with the gateway")
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint and inspect bearer tokens",
	}
	cmd.AddCommand(newTokenSignCmd(), newTokenVerifyCmd(), newTokenRevokeCmd())
	return cmd
}

type signOptions struct {
	subject  string
	username string
	email    string
	roles    []string
	ttl      time.Duration
}

func newTokenSignCmd() *cobra.Command {
	var o signOptions
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an HS256 token with identity.hmac_key",
		Long: `Sign an HS256 token for local development. Roles are written where the
configured role extractor reads them: identity.role_claim when set,
otherwise realm_access.roles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			tok, err := signToken(cfg.Identity, o, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&o.subject, "sub", "", "token subject")
	cmd.Flags().StringVar(&o.username, "username", "", "preferred_username claim")
	cmd.Flags().StringVar(&o.email, "email", "", "email claim")
	cmd.Flags().StringSliceVar(&o.roles, "role", nil, "role to grant; repeatable")
	cmd.Flags().DurationVar(&o.ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func signToken(id config.IdentityConfig, o signOptions, now time.Time) (string, error) {
	if id.HMACKey == "" {
		return "", errNoHMACKey
	}
	if o.ttl <= 0 {
		return "", fmt.Errorf("token: ttl must be positive, got %s", o.ttl)
	}

	claims := jwt.MapClaims{
		"sub": o.subject,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(o.ttl).Unix(),
	}
	if o.username != "" {
		claims["preferred_username"] = o.username
	}
	if o.email != "" {
		claims["email"] = o.email
	}
	if id.Issuer != "" {
		claims["iss"] = id.Issuer
	}
	if id.Audience != "" {
		claims["aud"] = id.Audience
	}
	roles := append([]string{}, o.roles...)
	if id.RoleClaim != "" {
		claims[id.RoleClaim] = roles
	} else {
		claims["realm_access"] = map[string]any{"roles": roles}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(id.HMACKey))
}

func newTokenVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and print the principal it yields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			return verifyToken(cmd.Context(), cmd.OutOrStdout(), cfg.Identity, args[0])
		},
	}
}

func verifyToken(ctx context.Context, w io.Writer, id config.IdentityConfig, token string) error {
	v := gateway.NewVerifier(id, cache.NewMemoryCache(cache.DefaultPolicy()))
	p, err := v.Verify(ctx, token)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Subject   string   `json:"sub"`
		Username  string   `json:"username,omitempty"`
		Email     string   `json:"email,omitempty"`
		Roles     []string `json:"roles"`
		ExpiresAt string   `json:"expiresAt"`
	}{p.Subject, p.Username, p.Email, p.Roles, p.ExpiresAt.UTC().Format(time.RFC3339)})
}

func newTokenRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <token>",
		Short: "Add a token's jti to the shared revocation set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			ctx := cmd.Context()
			cfg, err := config.Load(ctx, path)
			if err != nil {
				return err
			}
			if cfg.MemoryState() {
				return errNoSharedKV
			}
			client, err := cache.DialRedis(ctx, cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			jti, err := revokeToken(ctx, cfg.Identity, cache.NewRedisCache(client, cache.DefaultPolicy()), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "revoked", jti)
			return err
		},
	}
}

// revokeToken verifies token and records its jti in store until it expires.
func revokeToken(ctx context.Context, id config.IdentityConfig, store cache.Cache, token string) (string, error) {
	p, err := gateway.NewVerifier(id, store).Verify(ctx, token)
	if err != nil {
		return "", err
	}
	if p.TokenID == "" {
		return "", errNoTokenID
	}
	if err := auth.NewRevocations(store).Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
		return "", fmt.Errorf("token: revoke: %w", err)
	}
	return p.TokenID, nil
}
