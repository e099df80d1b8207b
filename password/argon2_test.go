package password

import (
	"errors"
	"strings"
	"testing"
)

func testParams() Params {
	return Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerify(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash prefix: %s", encoded)
	}

	if err := h.Verify("correct horse battery staple", encoded); err != nil {
		t.Fatalf("Verify(correct): %v", err)
	}
	if err := h.Verify("wrong password", encoded); !errors.Is(err, ErrMismatch) {
		t.Fatalf("Verify(wrong) = %v, want ErrMismatch", err)
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	a, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	h, err := NewHasher(testParams())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	for _, encoded := range []string{
		"",
		"not a hash",
		"$argon2id$v=19$m=8192,t=1,p=1$salt",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$aGFzaGhhc2g",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaGhhc2g",
	} {
		if err := h.Verify("anything", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidHash", encoded, err)
		}
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	for name, p := range map[string]Params{
		"low memory":  {Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		"zero time":   {Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		"short salt":  {Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 4, KeyLength: 32},
		"short key":   {Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
		"no parallel": {Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
	} {
		if _, err := NewHasher(p); err == nil {
			t.Errorf("%s: NewHasher accepted weak params", name)
		}
	}
}
