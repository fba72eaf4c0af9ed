// Package validation checks request field formats and the password policy.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/smsregister/smsregister/internal/models"
)

var (
	phonePattern    = regexp.MustCompile(`^010\d{8}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	latinPattern    = regexp.MustCompile(`^[A-Za-z]+$`)
	hangulPattern   = regexp.MustCompile(`^[\x{AC00}-\x{D7A3}]+$`)
	jamoPattern     = regexp.MustCompile(`[\x{3131}-\x{3163}]`)
)

const (
	MaxUsernameLength = 150
	MaxNicknameLength = 20
	MaxNameLength     = 50
)

// messages maps a validator tag to the message reported for the field.
var messages = map[string]string{
	"required":   "this field is required",
	"phone":      "invalid phone number format",
	"username":   "invalid username format",
	"nickname":   "invalid nickname format",
	"personname": "invalid name format",
	"email":      "enter a valid email address",
	"code":       "enter a valid integer between 1000 and 9999",
	"max":        "ensure this field is not too long",
}

// Validator wraps a validator.Validate with the custom tags registered.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New()

	// report fields by their JSON names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("phone", validatePhone)
	_ = validate.RegisterValidation("username", validateUsername)
	_ = validate.RegisterValidation("nickname", validateNickname)
	_ = validate.RegisterValidation("personname", validatePersonName)
	_ = validate.RegisterValidation("code", validateCode)

	return &Validator{validate: validate}
}

// Struct validates s and returns the failing fields with one message each,
// or nil when everything passes.
func (v *Validator) Struct(s interface{}) map[string][]string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string][]string{"message": {err.Error()}}
	}

	fields := make(map[string][]string)
	for _, fe := range validationErrors {
		name := fe.Field()
		if len(fields[name]) > 0 {
			continue
		}
		fields[name] = append(fields[name], Message(fe.Tag()))
	}
	return fields
}

// Message returns the user-facing text for a failed validator tag.
func Message(tag string) string {
	if msg, ok := messages[tag]; ok {
		return msg
	}
	return "invalid value"
}

func validatePhone(fl validator.FieldLevel) bool {
	return IsPhoneNumber(fl.Field().String())
}

func validateUsername(fl validator.FieldLevel) bool {
	return IsUsername(fl.Field().String())
}

func validateNickname(fl validator.FieldLevel) bool {
	return IsNickname(fl.Field().String())
}

func validatePersonName(fl validator.FieldLevel) bool {
	return IsPersonName(fl.Field().String())
}

func validateCode(fl validator.FieldLevel) bool {
	return IsCode(int(fl.Field().Int()))
}

// IsPhoneNumber accepts 11-digit mobile numbers starting with 010.
func IsPhoneNumber(s string) bool {
	return phonePattern.MatchString(s)
}

func IsUsername(s string) bool {
	return utf8.RuneCountInString(s) <= MaxUsernameLength && usernamePattern.MatchString(s)
}

// IsNickname rejects standalone Hangul jamo (U+3131 to U+3163).
func IsNickname(s string) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= MaxNicknameLength && !jamoPattern.MatchString(s)
}

// IsPersonName accepts names written entirely in Latin letters or entirely
// in Hangul syllables.
func IsPersonName(s string) bool {
	if utf8.RuneCountInString(s) > MaxNameLength {
		return false
	}
	return latinPattern.MatchString(s) || hangulPattern.MatchString(s)
}

func IsCode(code int) bool {
	return code >= models.MinCode && code <= models.MaxCode
}
