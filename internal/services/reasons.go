// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"errors"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/models"
)

// Reason explains why a validation or redemption did not succeed
type Reason string

const (
	ReasonNone                  Reason = ""
	ReasonKeyNotFoundOrInactive Reason = "KEY_NOT_FOUND_OR_INACTIVE"
	ReasonKeyExpired            Reason = "KEY_EXPIRED"
	ReasonUsageLimitReached     Reason = "USAGE_LIMIT_REACHED"
	ReasonDuplicateKeyCode      Reason = "DUPLICATE_KEY_CODE"
	ReasonStoreUnavailable      Reason = "STORE_UNAVAILABLE"
)

const (
	MessageValid    = "License key is valid!"
	MessageRedeemed = "License key redeemed successfully!"
)

// Message is the text shown to the person who submitted the key
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return MessageValid
	case ReasonKeyNotFoundOrInactive:
		return "Invalid license key or key not found for this project."
	case ReasonKeyExpired:
		return "This license key has expired."
	case ReasonUsageLimitReached:
		return "This license key has reached its usage limit."
	case ReasonDuplicateKeyCode:
		return "A license key with this code already exists."
	case ReasonStoreUnavailable:
		return "The license service is temporarily unavailable. Please try again."
	}
	return "Unknown error"
}

// Retriable reports whether repeating the operation may succeed
func (r Reason) Retriable() bool {
	return r == ReasonDuplicateKeyCode || r == ReasonStoreUnavailable
}

// ReasonFromError maps store errors onto reasons. Unrecognised errors yield ReasonNone.
func ReasonFromError(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, models.ErrLicenseKeyNotFound):
		return ReasonKeyNotFoundOrInactive
	case errors.Is(err, models.ErrUsageLimitReached):
		return ReasonUsageLimitReached
	case errors.Is(err, models.ErrDuplicateKeyCode):
		return ReasonDuplicateKeyCode
	case errors.Is(err, database.ErrStoreUnavailable):
		return ReasonStoreUnavailable
	}
	return ReasonNone
}
