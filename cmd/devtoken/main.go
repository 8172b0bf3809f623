package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/config"
)

// devtoken prints an HS256 bearer token for local testing against an
// api-server running with AUTH_PROVIDER=jwt.
func main() {
	userFlag := flag.String("user", "", "user id (uuid) to put in the token subject")
	roleFlag := flag.String("role", auth.RoleStudent, "role claim: student, tutor or admin")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSigningKey == "" {
		fmt.Fprintln(os.Stderr, "JWT_SIGNING_KEY is required")
		os.Exit(1)
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-user must be a valid uuid: %v\n", err)
		os.Exit(2)
	}

	token, exp, err := auth.Issue(userID, *roleFlag, cfg.Auth.JWTIssuer, cfg.Auth.JWTSigningKey, cfg.Auth.JWTAccessTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05 MST"))
	fmt.Println(token)
}
