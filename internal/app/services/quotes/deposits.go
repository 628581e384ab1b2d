package quotes

import (
	"context"
	"math"
	"strings"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

// SelectDepositRule picks the rule for a quote: a subcategory rule covering
// the total, then a category rule, then the default rule. Rules are expected
// ordered by descending priority. The bool is false when nothing matches.
func SelectDepositRule(rules []quote.DepositRule, categoryID, subcategoryID string, total int64) (quote.DepositRule, bool) {
	match := func(pred func(quote.DepositRule) bool) (quote.DepositRule, bool) {
		for _, r := range rules {
			if r.IsActive && pred(r) && r.Covers(total) {
				return r, true
			}
		}
		return quote.DepositRule{}, false
	}
	if subcategoryID != "" {
		if r, ok := match(func(r quote.DepositRule) bool { return r.SubcategoryID == subcategoryID }); ok {
			return r, true
		}
	}
	if categoryID != "" {
		if r, ok := match(func(r quote.DepositRule) bool {
			return r.CategoryID == categoryID && r.SubcategoryID == ""
		}); ok {
			return r, true
		}
	}
	return match(func(r quote.DepositRule) bool { return r.IsDefault })
}

// CalculateDeposit returns the deposit in cents for a quote total.
func (s *Service) CalculateDeposit(ctx context.Context, categoryID, subcategoryID string, total int64) (int64, error) {
	rules, err := s.store.ListDepositRules(ctx)
	if err != nil {
		return 0, err
	}
	if rule, ok := SelectDepositRule(rules, categoryID, subcategoryID, total); ok {
		return rule.Apply(total), nil
	}
	return int64(math.Round(float64(total) * quote.DefaultDepositRatio)), nil
}

func validateRule(r quote.DepositRule) error {
	fields := map[string]string{}
	if strings.TrimSpace(r.Name) == "" {
		fields["name"] = "name is required"
	}
	switch r.Type {
	case quote.DepositFixed:
		if r.FixedAmount < 0 {
			fields["fixedAmount"] = "fixed amount cannot be negative"
		}
	case quote.DepositPercentage:
		if r.Percentage < 0 || r.Percentage > 100 {
			fields["percentage"] = "percentage must be between 0 and 100"
		}
	case quote.DepositRanges:
		if len(r.Ranges) == 0 {
			fields["ranges"] = "at least one range is required"
		}
		for _, rg := range r.Ranges {
			if rg.Max < rg.Min {
				fields["ranges"] = "range max must not be below min"
			}
		}
	default:
		fields["type"] = "type must be FIXED, PERCENTAGE or RANGES"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// DepositRules lists every rule by descending priority.
func (s *Service) DepositRules(ctx context.Context) ([]quote.DepositRule, error) {
	return s.store.ListDepositRules(ctx)
}

// CreateDepositRule stores a new rule.
func (s *Service) CreateDepositRule(ctx context.Context, rule quote.DepositRule) (quote.DepositRule, error) {
	if err := validateRule(rule); err != nil {
		return quote.DepositRule{}, err
	}
	created, err := s.store.CreateDepositRule(ctx, rule)
	if err != nil {
		return quote.DepositRule{}, err
	}
	s.log.WithField("rule_id", created.ID).WithField("type", string(created.Type)).Info("deposit rule created")
	return created, nil
}

// UpdateDepositRule replaces a rule.
func (s *Service) UpdateDepositRule(ctx context.Context, id string, rule quote.DepositRule) (quote.DepositRule, error) {
	if _, err := s.store.GetDepositRule(ctx, id); err != nil {
		return quote.DepositRule{}, err
	}
	if err := validateRule(rule); err != nil {
		return quote.DepositRule{}, err
	}
	rule.ID = id
	return s.store.UpdateDepositRule(ctx, rule)
}

// DeleteDepositRule removes a rule.
func (s *Service) DeleteDepositRule(ctx context.Context, id string) error {
	return s.store.DeleteDepositRule(ctx, id)
}
