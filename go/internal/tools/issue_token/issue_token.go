package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/mcdev12/typerace/go/internal/race/gateway"
)

// Mints a handshake token for local testing:
//
//	JWT_SECRET=dev go run ./go/internal/tools/issue_token -email alice@example.com
func main() {
	_ = godotenv.Load()

	var (
		userID = flag.String("user", "", "user id (random when empty)")
		email  = flag.String("email", "", "user email")
		issuer = flag.String("issuer", envOr("JWT_ISSUER", "typerace"), "token issuer")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}
	if *userID == "" {
		*userID = uuid.New().String()
	}

	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		Secret:   secret,
		Issuer:   *issuer,
		TokenTTL: *ttl,
	}, clockwork.NewRealClock())

	token, err := auth.Issue(*userID, *email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "user %s, expires in %s\n", *userID, *ttl)
	fmt.Println(token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
