package data

import (
	"context"
	"strings"
	"testing"

	"DualLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleComplianceChecker(t *testing.T) {
	checker := NewComplianceChecker(log.DefaultLogger)
	checker.Restrict("bulk_export", model.PathBroker)

	tests := []struct {
		name          string
		path          model.Path
		operationType string
		wantCompliant bool
	}{
		{"unrestricted operation on direct", model.PathDirect, "analysis", true},
		{"unrestricted operation on broker", model.PathBroker, "analysis", true},
		{"restricted operation on its allowed path", model.PathBroker, "bulk_export", true},
		{"restricted operation on the wrong path", model.PathDirect, "bulk_export", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := checker.CheckCompliance(context.Background(), tt.path, tt.operationType)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCompliant, verdict.Compliant)
			if !tt.wantCompliant {
				assert.Contains(t, verdict.Reason, "restricted")
			}
		})
	}
}

func TestRegexPIIScanner(t *testing.T) {
	scanner := NewPIIScanner(log.DefaultLogger)

	tests := []struct {
		name           string
		text           string
		wantViolations int
	}{
		{"clean text", "run the nightly reconciliation job", 0},
		{"email address", "contact alice@example.com for access", 1},
		{"phone number", "call 555-867-5309 after hours", 1},
		{"ssn", "ssn on file: 123-45-6789", 1},
		{"multiple hits", "bob@example.com or carol@example.com", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := scanner.Scan(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantViolations, result.ViolationCount)

			if tt.wantViolations == 0 {
				assert.Equal(t, tt.text, result.Redacted)
				assert.Zero(t, result.LengthDelta)
			} else {
				assert.Contains(t, result.Redacted, redactionMarker)
				assert.Equal(t, len(result.Redacted)-len(tt.text), result.LengthDelta)
			}
		})
	}
}

func TestRegexPIIScanner_NoRawPIISurvives(t *testing.T) {
	scanner := NewPIIScanner(log.DefaultLogger)

	result, err := scanner.Scan(context.Background(), "reach dave@example.com or 555-867-5309")
	require.NoError(t, err)
	assert.False(t, strings.Contains(result.Redacted, "dave@example.com"))
	assert.False(t, strings.Contains(result.Redacted, "555-867-5309"))
	assert.Equal(t, 2, result.ViolationCount)
}
