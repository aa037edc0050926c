package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/config"

	"github.com/spf13/pflag"
)

func main() {
	var (
		email    = pflag.String("email", "ops@example.com", "Operator email, recorded as the actor of manual movements")
		roles    = pflag.StringSlice("roles", []string{"admin"}, "Comma-separated list of roles")
		expiry   = pflag.Duration("expiry", 24*time.Hour, "Token lifetime")
		secret   = pflag.String("secret", "", "JWT secret (overrides JWT_SECRET env var)")
		issuer   = pflag.String("issuer", "", "JWT issuer (overrides JWT_ISS env var)")
		audience = pflag.String("audience", "", "JWT audience (overrides JWT_AUD env var)")
		baseURL  = pflag.String("url", "http://localhost:8080", "API base URL for the usage example")
	)
	pflag.Parse()

	cfg := config.Load()
	if *secret != "" {
		cfg.JWTSecret = *secret
	}
	if *issuer != "" {
		cfg.JWTIssuer = *issuer
	}
	if *audience != "" {
		cfg.JWTAudience = *audience
	}

	roleList := make([]string, 0, len(*roles))
	for _, role := range *roles {
		if role = strings.TrimSpace(role); role != "" {
			roleList = append(roleList, role)
		}
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, *expiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid jwt settings: %v\n", err)
		os.Exit(1)
	}
	token, err := jwtManager.GenerateToken(*email, roleList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JWT Token generated successfully!\n\n")
	fmt.Printf("Email: %s\n", *email)
	fmt.Printf("Roles: %s\n", strings.Join(roleList, ", "))
	fmt.Printf("Expiry: %v\n", *expiry)
	fmt.Printf("Issuer: %s\n", cfg.JWTIssuer)
	fmt.Printf("Audience: %s\n", cfg.JWTAudience)
	fmt.Printf("\nToken:\n%s\n\n", token)

	fmt.Printf("Usage example:\n")
	fmt.Printf("curl -H \"Authorization: Bearer %s\" %s/api/assets\n", token, strings.TrimRight(*baseURL, "/"))
}
