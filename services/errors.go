package services

import "errors"

var (
	// ErrInvalidLocation rejects NaN or out-of-range coordinates before any store access.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrManifestGenerationFailed covers generator failure, timeout, and empty or malformed output.
	// Nothing is persisted when it is returned.
	ErrManifestGenerationFailed = errors.New("manifest generation failed")

	// ErrManifestNotFound is returned by admin lookups on unknown region keys.
	ErrManifestNotFound = errors.New("region manifest not found")

	// ErrInvalidSighting marks a sighting that can never be applied, such as one
	// without a user or animal. Retrying it cannot succeed.
	ErrInvalidSighting = errors.New("invalid sighting")

	// ErrUnknownChallengeKind rejects kinds other than daily and weekly.
	ErrUnknownChallengeKind = errors.New("unknown challenge kind")
)
