package data

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"DualLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RuleComplianceChecker implements biz.ComplianceChecker with a static rule
// table restricting operation types to a single path. Operations without a
// rule are compliant on both paths.
type RuleComplianceChecker struct {
	mu     sync.RWMutex
	rules  map[string]model.Path
	logger *log.Helper
}

// NewComplianceChecker creates the rule-based compliance checker.
func NewComplianceChecker(logger log.Logger) *RuleComplianceChecker {
	return &RuleComplianceChecker{
		rules:  make(map[string]model.Path),
		logger: log.NewHelper(logger),
	}
}

// Restrict pins an operation type to one path. Requests for that operation
// on the other path are reported non-compliant.
func (c *RuleComplianceChecker) Restrict(operationType string, path model.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[operationType] = path
}

// CheckCompliance implements biz.ComplianceChecker.
func (c *RuleComplianceChecker) CheckCompliance(ctx context.Context, path model.Path, operationType string) (model.ComplianceResult, error) {
	c.mu.RLock()
	required, restricted := c.rules[operationType]
	c.mu.RUnlock()

	if restricted && required != path {
		return model.ComplianceResult{
			Compliant: false,
			Reason:    fmt.Sprintf("operation %q is restricted to the %s path", operationType, required),
		}, nil
	}
	return model.ComplianceResult{Compliant: true}, nil
}

// piiPatterns match data that must never reach a provider unredacted.
var piiPatterns = []*regexp.Regexp{
	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	// US-style phone numbers
	regexp.MustCompile(`\b(?:\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}\b`),
	// SSN
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Card numbers (13-16 digits, optionally grouped)
	regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
}

const redactionMarker = "[REDACTED]"

// RegexPIIScanner implements biz.PIIScanner with pattern matching. Matches
// are replaced by a fixed marker; the caller only ever sees the redacted
// text, the match count and the length delta.
type RegexPIIScanner struct {
	logger *log.Helper
}

// NewPIIScanner creates the regex-based PII scanner.
func NewPIIScanner(logger log.Logger) *RegexPIIScanner {
	return &RegexPIIScanner{logger: log.NewHelper(logger)}
}

// Scan implements biz.PIIScanner.
func (s *RegexPIIScanner) Scan(ctx context.Context, text string) (model.PIIScanResult, error) {
	redacted := text
	violations := 0
	for _, pattern := range piiPatterns {
		matches := pattern.FindAllStringIndex(redacted, -1)
		if len(matches) == 0 {
			continue
		}
		violations += len(matches)
		redacted = pattern.ReplaceAllString(redacted, redactionMarker)
	}

	return model.PIIScanResult{
		Redacted:       redacted,
		ViolationCount: violations,
		LengthDelta:    len(redacted) - len(text),
	}, nil
}
