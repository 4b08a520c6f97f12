package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"moxie_companion/internal/auth"
	"moxie_companion/internal/config"
	"moxie_companion/internal/jsonstore"
	"moxie_companion/internal/storage"
)

func main() {
	pinFlag := flag.String("pin", "", "parent PIN, 4 to 8 digits (default $PARENT_PIN)")
	force := flag.Bool("force", false, "replace an existing PIN")
	flag.Parse()

	fmt.Println("Moxie Companion - Parent PIN Setup")
	fmt.Println(strings.Repeat("=", 34))

	// Load configuration (primarily for the data directory)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	pin := *pinFlag
	if pin == "" {
		pin = os.Getenv("PARENT_PIN")
	}
	if err := auth.ValidatePIN(pin); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v (pass -pin or set PARENT_PIN)\n", err)
		os.Exit(1)
	}

	var enc *storage.Encryption
	if cfg.Store.EncryptionKey != "" {
		enc, err = storage.NewEncryptionFromBase64(cfg.Store.EncryptionKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Invalid encryption key: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := jsonstore.Open(cfg.Store.DataDir, jsonstore.Options{Encryption: enc})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to open data directory: %v\n", err)
		os.Exit(1)
	}

	// Check for an existing PIN
	_, err = store.PINHash(context.Background())
	switch {
	case err == nil && !*force:
		fmt.Println("INFO: A parent PIN is already set. Use -force to replace it.")
		fmt.Println("Exiting successfully (no action taken)")
		os.Exit(0)
	case err != nil && !errors.Is(err, auth.ErrPINNotSet):
		fmt.Fprintf(os.Stderr, "ERROR: Failed to read settings: %v\n", err)
		os.Exit(1)
	}

	// Hash PIN using Argon2
	fmt.Println("Hashing PIN using Argon2...")
	hash, err := auth.HashPIN(pin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash PIN: %v\n", err)
		os.Exit(1)
	}

	if err := store.SetPINHash(hash); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to save PIN: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Parent PIN saved to %s\n", store.Root())
	if enc == nil {
		fmt.Println("NOTE: STORE_ENCRYPTION_KEY is not set; settings are stored unencrypted.")
	}
}
