package services

import (
	"context"
	"sync"

	"formaos-compliance/internal/domain/models"
)

// SchemaDetector probes the compliance_controls layout once per process.
// A failed probe is not remembered.
type SchemaDetector struct {
	store ComplianceStore

	mu       sync.Mutex
	detected models.ControlsSchema
}

// NewSchemaDetector creates a detector over store
func NewSchemaDetector(store ComplianceStore) *SchemaDetector {
	return &SchemaDetector{store: store}
}

// Detect returns the memoized schema variant
func (d *SchemaDetector) Detect(ctx context.Context) (models.ControlsSchema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.detected != "" {
		return d.detected, nil
	}
	schema, err := d.store.DetectControlsSchema(ctx)
	if err != nil {
		return "", err
	}
	d.detected = schema
	return schema, nil
}
