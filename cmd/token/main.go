// Command token issues a bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"daily-reward-api/internal/auth"
	"daily-reward-api/internal/config"
	"daily-reward-api/internal/models"
	"daily-reward-api/internal/validation"
)

func main() {
	configFile := flag.String("config", "", "Optional JSON config file")
	userID := flag.String("user", "", "User id (token subject)")
	name := flag.String("name", "", "Display name")
	admin := flag.Bool("admin", false, "Grant the admin claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := validation.ValidateID(*userID, "user"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v (set JWT_SECRET)\n", err)
		os.Exit(1)
	}
	tok, err := tokens.Issue(models.User{ID: *userID, Name: *name, IsAdmin: *admin})
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
