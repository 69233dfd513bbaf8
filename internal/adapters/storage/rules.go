package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// ruleTypeOf labels a rule by its top-level filter kind, for the rules
// table's indexed rule_type column.
func ruleTypeOf(f domain.Filter) string {
	switch f.Kind {
	case domain.FilterIPAddress:
		return "ip_address"
	case domain.FilterPort:
		return "port"
	case domain.FilterIPVersion:
		return "ip_version"
	case domain.FilterNextHeaderProtocol:
		return "next_header_protocol"
	case domain.FilterAnd:
		return "and"
	case domain.FilterOr:
		return "or"
	case domain.FilterNot:
		return "not"
	default:
		return "unknown"
	}
}

func ruleToModel(r domain.Rule, action string, enabled bool) (RuleModel, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	conditions, err := json.Marshal(r.Filter)
	if err != nil {
		return RuleModel{}, fmt.Errorf("encode filter: %w", err)
	}
	now := time.Now().UTC()
	return RuleModel{
		ID:         r.ID,
		RuleType:   ruleTypeOf(r.Filter),
		Conditions: string(conditions),
		Action:     action,
		Priority:   r.Priority,
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func modelToRule(m RuleModel) (domain.Rule, error) {
	var filter domain.Filter
	if err := json.Unmarshal([]byte(m.Conditions), &filter); err != nil {
		return domain.Rule{}, fmt.Errorf("decode filter: %w", err)
	}
	return domain.Rule{ID: m.ID, Filter: filter, Priority: m.Priority}, nil
}

// loadEnabledRules returns every enabled rule ordered by descending
// priority, for seeding a firewall.Firewall at startup.
func loadEnabledRules(ctx context.Context, db *gorm.DB) ([]domain.Rule, error) {
	var models []RuleModel
	if err := db.WithContext(ctx).Where("enabled = ?", true).Order("priority DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]domain.Rule, 0, len(models))
	for _, m := range models {
		rule, err := modelToRule(m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// saveRule upserts a rule, assigning it a uuid ID if it doesn't have one.
func saveRule(ctx context.Context, db *gorm.DB, r domain.Rule, action string, enabled bool) (domain.Rule, error) {
	model, err := ruleToModel(r, action, enabled)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := db.WithContext(ctx).Save(&model).Error; err != nil {
		return domain.Rule{}, fmt.Errorf("save rule: %w", err)
	}
	return modelToRule(model)
}
