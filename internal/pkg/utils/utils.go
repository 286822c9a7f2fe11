package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateRandomString returns length hex characters.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:length]
}

// MaskEmail hides the middle of the local part: alice@x.io -> a***e@x.io.
func MaskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}
	name, domain := parts[0], parts[1]
	if len(name) <= 2 {
		return email
	}
	return name[0:1] + "***" + name[len(name)-1:] + "@" + domain
}

// MaskTarget masks email addresses and strips the path of URLs, which for
// chat webhooks carries the credential.
func MaskTarget(target string) string {
	if strings.Contains(target, "@") && !strings.Contains(target, "://") {
		return MaskEmail(target)
	}
	if i := strings.Index(target, "://"); i >= 0 {
		rest := target[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return target[:i+3] + rest[:j] + "/***"
		}
	}
	return target
}
