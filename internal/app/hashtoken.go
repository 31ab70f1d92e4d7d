package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"horse.fit/mediatrends/internal/auth"
)

// runHashToken prints a bcrypt hash for ADMIN_TOKEN_HASH. Without --stdin a
// fresh random token is generated and printed once.
func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fromStdin := fs.Bool("stdin", false, "Hash a token read from stdin instead of generating one")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var token string
	if *fromStdin {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read token: %v\n", err)
			return 1
		}
		token = strings.TrimSpace(string(raw))
		if token == "" {
			fmt.Fprintln(os.Stderr, "token on stdin is empty")
			return 2
		}
	} else {
		generated, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
			return 1
		}
		token = generated
		fmt.Printf("token=%s\n", token)
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 1
	}
	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
	return 0
}
