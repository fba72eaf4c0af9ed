package validation

import (
	"bufio"
	_ "embed"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MinPasswordLength = 8

// maxSimilarity is the quick ratio at or above which a password counts as
// too similar to an account attribute.
const maxSimilarity = 0.7

const (
	msgPasswordTooShort = "This password is too short. It must contain at least 8 characters."
	msgPasswordCommon   = "This password is too common."
	msgPasswordNumeric  = "This password is entirely numeric."
	msgPasswordSimilar  = "The password is too similar to the %s."
)

//go:embed common_passwords.txt
var commonPasswordList string

var commonPasswords = loadCommonPasswords(commonPasswordList)

func loadCommonPasswords(list string) map[string]struct{} {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(list))
	for scanner.Scan() {
		if word := strings.TrimSpace(scanner.Text()); word != "" {
			set[strings.ToLower(word)] = struct{}{}
		}
	}
	return set
}

// PasswordAttributes are the account values a password must not resemble.
type PasswordAttributes struct {
	Username string
	Email    string
	Nickname string
}

// CheckPassword applies the password policy and returns every failed rule.
func CheckPassword(password string, attrs PasswordAttributes) []string {
	var problems []string

	if utf8.RuneCountInString(password) < MinPasswordLength {
		problems = append(problems, msgPasswordTooShort)
	}

	lowered := strings.ToLower(password)
	if _, ok := commonPasswords[lowered]; ok {
		problems = append(problems, msgPasswordCommon)
	}

	if password != "" && strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) == -1 {
		problems = append(problems, msgPasswordNumeric)
	}

	for _, attr := range []struct {
		label string
		value string
	}{
		{"username", attrs.Username},
		{"email address", attrs.Email},
		{"nickname", attrs.Nickname},
	} {
		if tooSimilar(lowered, strings.ToLower(attr.value)) {
			problems = append(problems, strings.Replace(msgPasswordSimilar, "%s", attr.label, 1))
			break
		}
	}

	return problems
}

// tooSimilar compares the password with the attribute and with each of its
// word parts ("kim@example.com" also yields "kim", "example", "com").
func tooSimilar(password, attr string) bool {
	if attr == "" {
		return false
	}
	pw := []rune(password)
	parts := strings.FieldsFunc(attr, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, part := range append(parts, attr) {
		value := []rune(part)
		if exceedsLengthRatio(len(pw), len(value)) {
			continue
		}
		if quickRatio(pw, value) >= maxSimilarity {
			return true
		}
	}
	return false
}

// exceedsLengthRatio skips parts far too short relative to the password to
// ever reach maxSimilarity.
func exceedsLengthRatio(passwordLen, valueLen int) bool {
	bound := maxSimilarity / 2 * float64(passwordLen)
	return passwordLen >= 10*valueLen && float64(valueLen) < bound
}

// quickRatio is an upper bound on the similarity of a and b: twice the size
// of their character multiset intersection over the total length.
func quickRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	avail := make(map[rune]int, len(b))
	for _, r := range b {
		avail[r]++
	}
	matches := 0
	for _, r := range a {
		if avail[r] > 0 {
			avail[r]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(total)
}
