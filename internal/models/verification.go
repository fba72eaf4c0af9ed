package models

import "time"

// VerificationWindow is how long an issued code stays matchable.
const VerificationWindow = 5 * time.Minute

const (
	MinCode = 1000
	MaxCode = 9999
)

// Verification is the single live one-time code for a phone number.
type Verification struct {
	PhoneNumber string    `json:"phone_number" dynamodbav:"phone_number"`
	Code        int       `json:"code" dynamodbav:"code"`
	IssuedAt    time.Time `json:"issued_at" dynamodbav:"issued_at"`
}

// Matches reports whether code equals the stored code and was issued no
// more than VerificationWindow before now.
func (v *Verification) Matches(code int, now time.Time) bool {
	if v == nil || v.Code != code {
		return false
	}
	return !v.IssuedAt.Before(now.Add(-VerificationWindow))
}

func (v *Verification) GetPK() string {
	return "VERIFICATION#" + v.PhoneNumber
}

func (v *Verification) GetSK() string {
	return "METADATA"
}
