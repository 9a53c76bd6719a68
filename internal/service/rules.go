package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/insights"
	"github.com/notenetra/creditscore/internal/repository"
)

// ErrNoInsights is returned by rule operations when insights are disabled.
var ErrNoInsights = errors.New("insight engine not configured")

// ReloadInsights loads the built-in rules plus the tenant's stored rules.
// A stored rule replaces the built-in rule with the same ID, so tenants can
// reword or disable a default. On error the loaded set is left unchanged.
func (s *Service) ReloadInsights(ctx context.Context, tenantID string) (int, error) {
	if s.insights == nil {
		return 0, ErrNoInsights
	}

	byID := make(map[string]*domain.InsightRule)
	for _, r := range insights.DefaultRules() {
		byID[r.ID] = r
	}
	if s.repo != nil && tenantID != "" {
		stored, err := s.repo.ListInsightRules(ctx, tenantID)
		if err != nil {
			return 0, fmt.Errorf("failed to load insight rules: %w", err)
		}
		for _, r := range stored {
			byID[r.ID] = r
		}
	}

	rules := make([]*domain.InsightRule, 0, len(byID))
	for _, r := range byID {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	if err := s.insights.ReloadRules(rules); err != nil {
		return 0, err
	}

	slog.Info("insight rules reloaded",
		"tenant_id", tenantID,
		"rule_count", s.insights.RulesCount(),
	)
	return s.insights.RulesCount(), nil
}

// SaveInsightRule validates a rule, stores it and loads it. Invalid CEL is
// reported as repository.ErrInvalidInput.
func (s *Service) SaveInsightRule(ctx context.Context, tenantID string, rule *domain.InsightRule) error {
	if s.insights == nil {
		return ErrNoInsights
	}
	if s.repo == nil {
		return ErrNoStore
	}
	if rule != nil && rule.Severity == "" {
		rule.Severity = domain.SeverityInfo
	}
	if err := s.insights.ValidateRule(rule); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}

	rule.TenantID = tenantID
	if err := s.repo.SaveInsightRule(ctx, tenantID, rule); err != nil {
		return fmt.Errorf("failed to save insight rule: %w", err)
	}

	if rule.Enabled {
		if err := s.insights.LoadRule(rule); err != nil {
			return err
		}
	} else if _, err := s.ReloadInsights(ctx, tenantID); err != nil {
		return err
	}
	return nil
}

// ListInsightRules returns the loaded rules.
func (s *Service) ListInsightRules() []*domain.InsightRule {
	if s.insights == nil {
		return nil
	}
	return s.insights.LoadedRules()
}
