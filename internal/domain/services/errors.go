package services

import "errors"

var (
	// ErrEntitlementDenied is returned when an organization lacks the capability to evaluate
	ErrEntitlementDenied = errors.New("entitlement denied")

	// ErrInvalidPack is returned when a framework pack fails hard validation
	ErrInvalidPack = errors.New("invalid framework pack")

	// ErrFrameworkNotFound marks a missing framework; evaluate callers see nil instead
	ErrFrameworkNotFound = errors.New("framework not found")

	// ErrSnapshotLoad wraps load failures surfaced in strict snapshot mode
	ErrSnapshotLoad = errors.New("failed to load compliance snapshot inputs")

	// ErrLockHeld marks a sweep skipped because another instance holds the lock
	ErrLockHeld = errors.New("evaluation lock held")
)

// FeatureEntitlement is the capability required to run framework evaluations
const FeatureEntitlement = "framework_evaluations"
