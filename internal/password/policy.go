package password

import (
	"fmt"
	"unicode/utf8"
)

// Policy describes password complexity requirements.
type Policy struct {
	RequiredLength         int
	MaxLength              int
	RequiredUniqueChars    int
	RequireDigit           bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireNonAlphanumeric bool
}

// BcryptMaxLength is the number of bytes bcrypt reads from a password.
const BcryptMaxLength = 72

// DefaultPolicy requires eight characters with four distinct ones and every character class.
func DefaultPolicy() Policy {
	return Policy{
		RequiredLength:         8,
		MaxLength:              128,
		RequiredUniqueChars:    4,
		RequireDigit:           true,
		RequireLowercase:       true,
		RequireUppercase:       true,
		RequireNonAlphanumeric: true,
	}
}

// Check returns one message per violated rule, in a stable order.
func (p Policy) Check(plaintext string) []string {
	var (
		violations                             []string
		hasDigit, hasLower, hasUpper, hasOther bool
	)
	unique := make(map[rune]struct{})
	for _, r := range plaintext {
		unique[r] = struct{}{}
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		default:
			hasOther = true
		}
	}
	if utf8.RuneCountInString(plaintext) < p.RequiredLength {
		violations = append(violations, fmt.Sprintf("Passwords must be at least %d characters.", p.RequiredLength))
	}
	// MaxLength counts bytes since that is what the hashers consume.
	if p.TooLong(plaintext) {
		violations = append(violations, fmt.Sprintf("Passwords must be at most %d bytes.", p.MaxLength))
	}
	if p.RequireNonAlphanumeric && !hasOther {
		violations = append(violations, "Passwords must have at least one non alphanumeric character.")
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, "Passwords must have at least one digit ('0'-'9').")
	}
	if p.RequireLowercase && !hasLower {
		violations = append(violations, "Passwords must have at least one lowercase ('a'-'z').")
	}
	if p.RequireUppercase && !hasUpper {
		violations = append(violations, "Passwords must have at least one uppercase ('A'-'Z').")
	}
	if len(unique) < p.RequiredUniqueChars {
		violations = append(violations, fmt.Sprintf("Passwords must use at least %d different characters.", p.RequiredUniqueChars))
	}
	return violations
}

// TooLong reports whether plaintext exceeds MaxLength bytes. Zero disables the limit.
func (p Policy) TooLong(plaintext string) bool {
	return p.MaxLength > 0 && len(plaintext) > p.MaxLength
}
