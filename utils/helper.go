package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
)

// Fellows are paid out to Kenyan M-Pesa numbers.
var CountryCode = "KE"

func IsValidEmail(email string) bool {
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

// NormalizeMpesaNumber parses and reformats a payout destination into E.164
// (e.g. "0712 345 678" -> "+254712345678"). The normalized form is what gets
// snapshotted onto payout statements.
func NormalizeMpesaNumber(phoneNumber string) (string, error) {
	p, err := libphonenumber.Parse(strings.TrimSpace(phoneNumber), CountryCode)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("mpesa number is not a valid %s number", CountryCode)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

func ProcessValidationErrors(err error) map[string]string {
	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func UniqueSlice[T comparable](in []T) []T {
	seen := make(map[T]bool, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// SessionSubmissionLock takes a best-effort distributed lock for attendance
// submissions against one session. Callers proceed without the lock when
// Redis is unavailable; the database advisory lock is the real serializer.
func SessionSubmissionLock(ctx context.Context, sessionId string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("attendance:%s", sessionId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for session", sessionId, err)
		return nil, errors.New("another attendance submission for this session is in progress")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for session", sessionId, err)
		return nil, nil
	}
	return lock, nil
}
