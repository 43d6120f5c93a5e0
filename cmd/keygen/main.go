package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	// 32 random bytes; HKDF derives the per-algorithm cipher key from it
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}

	keyBase64 := base64.StdEncoding.EncodeToString(key)

	fmt.Printf("Generated shared key (base64 encoded):\n%s\n", keyBase64)
	fmt.Printf("\nYou can use this key in your configuration:\n")
	fmt.Printf("protection:\n  enabled: true\n  shared_key: \"base64:%s\"\n", keyBase64)
	fmt.Printf("\nOr set it as an environment variable:\n")
	fmt.Printf("export PSTORE_PROTECTION_SHARED_KEY=\"base64:%s\"\n", keyBase64)
}
