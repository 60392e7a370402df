package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-revshare/internal/auth"
	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

func main() {
	subject := flag.String("sub", "", "service name placed in the sub claim")
	roles := flag.String("roles", auth.RoleIngest, "comma separated roles")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "token").Logger()
	if strings.TrimSpace(*subject) == "" {
		logger.Fatal().Msg("-sub is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	tokens, err := auth.NewTokens(auth.TokensConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tokens")
	}

	var list []string
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			list = append(list, role)
		}
	}
	token, expires, err := tokens.Issue(*subject, list, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	logger.Info().Str("sub", *subject).Strs("roles", list).Time("expires_at", expires).Msg("token issued")
	fmt.Println(token)
}
