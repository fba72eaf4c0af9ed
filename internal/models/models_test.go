package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationMatches(t *testing.T) {
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v := &Verification{PhoneNumber: "01000000000", Code: 1234, IssuedAt: issued}

	assert.True(t, v.Matches(1234, issued))
	assert.True(t, v.Matches(1234, issued.Add(VerificationWindow)))
	assert.False(t, v.Matches(1234, issued.Add(VerificationWindow+time.Second)))
	assert.False(t, v.Matches(4321, issued))

	var missing *Verification
	assert.False(t, missing.Matches(1234, issued))
}

func TestPlaceholderPromote(t *testing.T) {
	now := time.Now()
	placeholder := NewPlaceholder("id-1", "01000000000")
	require.NoError(t, placeholder.Validate())
	assert.True(t, placeholder.IsPlaceholder())
	assert.Equal(t, "01000000000", placeholder.Username)

	registered, err := placeholder.Promote(Registration{
		Username:     "tester",
		Email:        "tester@example.com",
		PasswordHash: "hash",
		Nickname:     "nick",
		Name:         "Tester",
	}, now)
	require.NoError(t, err)
	assert.True(t, registered.IsRegistered())
	assert.Equal(t, "01000000000", registered.PhoneNumber)
	assert.Equal(t, "id-1", registered.ID)

	// the original value is untouched
	assert.True(t, placeholder.IsPlaceholder())

	_, err = registered.Promote(Registration{}, now)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestPromoteRejectsIncompleteRegistration(t *testing.T) {
	placeholder := NewPlaceholder("id-1", "01000000000")
	_, err := placeholder.Promote(Registration{Username: "tester"}, time.Now())
	assert.ErrorIs(t, err, ErrIncompleteAccount)
}

func TestAccountValidate(t *testing.T) {
	bad := NewPlaceholder("id-1", "01000000000")
	bad.Email = "x@example.com"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPlaceholder)

	unknown := &Account{PhoneNumber: "01000000000", Status: "deleted"}
	assert.ErrorIs(t, unknown.Validate(), ErrInvalidStatus)
}

func TestNormalizedEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizedEmail("  User@Example.COM "))
}
