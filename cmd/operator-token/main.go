// Command operator-token mints a bearer token for the transfer approval API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/josh-kwaku/ledger-saga/internal/auth"
)

func main() {
	operator := flag.String("operator", "", "operator name recorded as the token subject")
	role := flag.String("role", auth.RoleManager, "operator role (manager, operator or viewer)")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(2)
	}

	token, err := auth.GenerateToken(*operator, *role, secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
