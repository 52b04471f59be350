package protocol

import (
	"fmt"
	"regexp"
)

// usernameRe matches valid local account names.
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const maxUsernameLen = 64

// ValidateUsername checks that a username is a safe, expected local
// account name. Used when recording consent; the admission path never
// trusts the client-supplied username for anything but audit records.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("username must not be empty")
	}
	if len(name) > maxUsernameLen {
		return fmt.Errorf("username too long (%d chars, max %d)", len(name), maxUsernameLen)
	}
	if !usernameRe.MatchString(name) {
		return fmt.Errorf("invalid username: %q", name)
	}
	return nil
}
