package auth

import (
	"strings"
	"testing"
)

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		name  string
		pin   string
		valid bool
	}{
		{name: "four digits", pin: "1234", valid: true},
		{name: "eight digits", pin: "12345678", valid: true},
		{name: "too short", pin: "123", valid: false},
		{name: "too long", pin: "123456789", valid: false},
		{name: "letters", pin: "12a4", valid: false},
		{name: "empty", pin: "", valid: false},
		{name: "unicode digits", pin: "١٢٣٤", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if tt.valid && err != nil {
				t.Errorf("ValidatePIN(%q) error = %v, want nil", tt.pin, err)
			}
			if !tt.valid && err != ErrInvalidPIN {
				t.Errorf("ValidatePIN(%q) error = %v, want ErrInvalidPIN", tt.pin, err)
			}
		})
	}
}

func TestHashPIN(t *testing.T) {
	hash, err := HashPIN("2468")
	if err != nil {
		t.Fatalf("HashPIN() error = %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Errorf("HashPIN() hash format invalid: %s", hash)
	}

	// Salted: the same PIN hashes differently
	hash2, _ := HashPIN("2468")
	if hash == hash2 {
		t.Error("HashPIN() should use a random salt")
	}

	if _, err := HashPIN("12"); err != ErrInvalidPIN {
		t.Errorf("HashPIN() error = %v, want ErrInvalidPIN", err)
	}
}

func TestVerifyPIN(t *testing.T) {
	hash, err := HashPIN("2468")
	if err != nil {
		t.Fatalf("HashPIN() error = %v", err)
	}

	t.Run("valid PIN", func(t *testing.T) {
		ok, err := VerifyPIN("2468", hash)
		if err != nil {
			t.Fatalf("VerifyPIN() error = %v", err)
		}
		if !ok {
			t.Error("VerifyPIN() = false, want true")
		}
	})

	t.Run("wrong PIN", func(t *testing.T) {
		ok, err := VerifyPIN("1357", hash)
		if err != nil {
			t.Fatalf("VerifyPIN() error = %v", err)
		}
		if ok {
			t.Error("VerifyPIN() = true, want false")
		}
	})

	t.Run("invalid hash format", func(t *testing.T) {
		if _, err := VerifyPIN("2468", "invalid-hash"); err != ErrInvalidHash {
			t.Errorf("VerifyPIN() error = %v, want ErrInvalidHash", err)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		bad := strings.Replace(hash, "v=19", "v=16", 1)
		if _, err := VerifyPIN("2468", bad); err != ErrIncompatibleVersion {
			t.Errorf("VerifyPIN() error = %v, want ErrIncompatibleVersion", err)
		}
	})

	t.Run("corrupt salt", func(t *testing.T) {
		parts := strings.Split(hash, "$")
		parts[4] = "!!!"
		if _, err := VerifyPIN("2468", strings.Join(parts, "$")); err != ErrInvalidHash {
			t.Errorf("VerifyPIN() error = %v, want ErrInvalidHash", err)
		}
	})
}
