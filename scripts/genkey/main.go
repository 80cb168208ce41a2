// genkey generates an Ed25519 key pair for Pulse JWT signing.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Writes:
//
//	data/jwt_private.pem  (mode 0600 — keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// Point PULSE_JWT_PRIVATE_KEY and PULSE_JWT_PUBLIC_KEY at these files. The
// data/ directory is gitignored. Run once before first launch; keys persist
// across restarts.
//
// The server auto-generates ephemeral keys when PULSE_JWT_PRIVATE_KEY is
// unset, but those are discarded on every restart, invalidating all existing
// tokens. Persistent keys prevent that.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := "data"
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fatalf("cannot create %s: %v", dir, err)
	}

	// Refuse to overwrite existing keys — prevents accidental invalidation of
	// live tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			fatalf("%s already exists — delete it first if you want to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fatalf("generate key: %v", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		fatalf("marshal private key: %v", err)
	}
	writePEM(privPath, "PRIVATE KEY", privDER)

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		fatalf("marshal public key: %v", err)
	}
	writePEM(pubPath, "PUBLIC KEY", pubDER)
}

func writePEM(path, blockType string, der []byte) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		fatalf("write %s: %v", path, err)
	}
	fmt.Printf("wrote %s\n", path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
