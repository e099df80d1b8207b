package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Backup codes are 8 uppercase hex characters: long enough to be
// unguessable in ten tries, short enough to type from a printout.
const backupCodeBytes = 4

func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(buf))
	}
	return codes, nil
}

// hashBackupCode digests a code for storage. Input is uppercased first
// so codes are accepted however the user types them.
func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}
