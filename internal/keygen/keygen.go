// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package keygen produces and recognises license key codes of the form PROJ-XXXX-XXXX-XXXX.
package keygen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	Prefix        = "PROJ"
	Segments      = 3
	SegmentLength = 4
	Alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// CodeLength is len("PROJ-XXXX-XXXX-XXXX")
	CodeLength = len(Prefix) + Segments*(SegmentLength+1)
)

var codePattern = regexp.MustCompile(`^PROJ-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// Generator returns a fresh key code. Swappable so callers can test collisions.
type Generator func() (string, error)

// Generate returns a random key code drawn uniformly from Alphabet using crypto/rand
func Generate() (string, error) {
	alphabetSize := big.NewInt(int64(len(Alphabet)))

	var b strings.Builder
	b.Grow(CodeLength)
	b.WriteString(Prefix)

	for s := 0; s < Segments; s++ {
		b.WriteByte('-')
		for i := 0; i < SegmentLength; i++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return "", fmt.Errorf("failed to read random source: %w", err)
			}
			b.WriteByte(Alphabet[n.Int64()])
		}
	}

	return b.String(), nil
}

// Normalize canonicalises user input to the stored form
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsWellFormed reports whether code, once normalized, has the PROJ-XXXX-XXXX-XXXX shape
func IsWellFormed(code string) bool {
	return codePattern.MatchString(Normalize(code))
}

// Mask hides most of a key code for logging
func Mask(code string) string {
	if len(code) <= 8 {
		return "***"
	}
	return code[:8] + "***"
}
