// hashkey produces an argon2id hash of an API key for PULSE_API_KEYS.
//
// Usage:
//
//	go run scripts/hashkey/main.go <client-id> <api-key>
//
// Prints a ready-to-use keyring entry ("client-id=hash"). Join multiple
// entries with ";" to grant several clients:
//
//	PULSE_API_KEYS="svc-a=...;svc-b=..."
//
// Safe to re-run — each invocation uses a fresh random salt, so the same key
// hashes differently every time. Any of the hashes verifies.
package main

import (
	"fmt"
	"os"

	"github.com/strellerminds/pulse/internal/auth"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: hashkey <client-id> <api-key>")
		os.Exit(1)
	}
	clientID, apiKey := os.Args[1], os.Args[2]

	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: hash key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s=%s\n", clientID, hash)
}
