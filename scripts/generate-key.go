// Package main is a development utility for generating the secrets the server
// needs at startup: a 32-byte ENCRYPTION_KEY for the at-rest secret box and a
// JWT signing secret. It prints ready-to-paste environment variable lines so
// developers can bring up a local instance quickly. Do not reuse generated
// values across environments — production secrets belong in a secret manager.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func randomSecret(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func main() {
	// The secret box derives its key with PBKDF2, so any high-entropy string
	// works; 32 random bytes keeps it comfortably above the minimum length.
	encryptionKey := randomSecret(32)
	jwtSecret := randomSecret(32)

	fmt.Println("==========================================================")
	fmt.Println("Generated development secrets")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport ENCRYPTION_KEY=%s\n", encryptionKey)
	fmt.Printf("export SHOP_SECURITY_JWT_SECRET=%s\n", jwtSecret)
	fmt.Println("\n==========================================================")
	fmt.Println("Add these to your shell or .env before starting the server.")
	fmt.Println("==========================================================")
}
