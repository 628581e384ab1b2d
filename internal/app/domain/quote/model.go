package quote

import (
	"math"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain"
)

// DefaultTaxRate is the Italian standard VAT applied when an item has none.
const DefaultTaxRate = 0.22

// DefaultDepositRatio applies when no deposit rule matches.
const DefaultDepositRatio = 0.30

// Status is the lifecycle state of a quote.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(s)) }

func (s *Status) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*s = Status(v)
	return err
}

// Item is a priced line of a quote. Monetary values are euro cents.
type Item struct {
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   int64    `json:"unitPrice"`
	TaxRate     *float64 `json:"taxRate,omitempty"`
	Discount    int64    `json:"discount,omitempty"`
}

// Gross is quantity times unit price, rounded to the cent, before discount
// and tax.
func (i Item) Gross() int64 {
	return int64(math.Round(i.Quantity * float64(i.UnitPrice)))
}

// EffectiveTaxRate returns the item tax rate or the default.
func (i Item) EffectiveTaxRate() float64 {
	if i.TaxRate == nil {
		return DefaultTaxRate
	}
	return *i.TaxRate
}

// Totals are the computed amounts of a quote in cents.
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	TaxAmount      int64 `json:"taxAmount"`
	DiscountAmount int64 `json:"discountAmount"`
	TotalAmount    int64 `json:"totalAmount"`
}

// ComputeTotals sums item totals, discounts and taxes. Each item is rounded
// to cents before summing.
func ComputeTotals(items []Item) Totals {
	var t Totals
	for _, item := range items {
		itemTotal := item.Gross()
		itemTax := int64(math.Round(float64(itemTotal-item.Discount) * item.EffectiveTaxRate()))
		t.Subtotal += itemTotal
		t.DiscountAmount += item.Discount
		t.TaxAmount += itemTax
	}
	t.TotalAmount = t.Subtotal - t.DiscountAmount + t.TaxAmount
	return t
}

// Quote is a professional's priced offer on a request.
type Quote struct {
	ID             string `json:"id"`
	RequestID      string `json:"requestId"`
	ProfessionalID string `json:"professionalId"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Items          []Item `json:"items"`
	Totals
	Status          Status     `json:"status"`
	Version         int        `json:"version"`
	ValidUntil      *time.Time `json:"validUntil,omitempty"`
	DepositRequired bool       `json:"depositRequired"`
	DepositAmount   int64      `json:"depositAmount,omitempty"`
	Terms           string     `json:"terms,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	IsSelected      bool       `json:"isSelected"`
	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Expired reports whether the quote validity has passed at now.
func (q Quote) Expired(now time.Time) bool {
	return q.ValidUntil != nil && now.After(*q.ValidUntil)
}

// Revision snapshots a quote version.
type Revision struct {
	ID      string `json:"id"`
	QuoteID string `json:"quoteId"`
	Version int    `json:"version"`
	UserID  string `json:"userId"`
	Reason  string `json:"reason,omitempty"`
	Items   []Item `json:"items"`
	Totals
	CreatedAt time.Time `json:"createdAt"`
}

// Template is a reusable set of quote items owned by a professional.
type Template struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professionalId"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Items          []Item    `json:"items"`
	Terms          string    `json:"terms,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DepositType selects how a deposit rule computes its amount.
type DepositType string

const (
	DepositFixed      DepositType = "FIXED"
	DepositPercentage DepositType = "PERCENTAGE"
	DepositRanges     DepositType = "RANGES"
)

func (d DepositType) MarshalJSON() ([]byte, error) { return domain.MarshalEnum(string(d)) }

func (d *DepositType) UnmarshalJSON(data []byte) error {
	v, err := domain.UnmarshalEnum(data)
	*d = DepositType(v)
	return err
}

// DepositRange applies when a total falls in [Min, Max].
type DepositRange struct {
	Min        int64   `json:"min"`
	Max        int64   `json:"max"`
	Amount     int64   `json:"amount,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}

// DepositRule configures deposits per category or subcategory.
type DepositRule struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	CategoryID     string         `json:"categoryId,omitempty"`
	SubcategoryID  string         `json:"subcategoryId,omitempty"`
	Type           DepositType    `json:"type"`
	FixedAmount    int64          `json:"fixedAmount,omitempty"`
	Percentage     float64        `json:"percentage,omitempty"`
	Ranges         []DepositRange `json:"ranges,omitempty"`
	MinQuoteAmount *int64         `json:"minQuoteAmount,omitempty"`
	MaxQuoteAmount *int64         `json:"maxQuoteAmount,omitempty"`
	Priority       int            `json:"priority"`
	IsDefault      bool           `json:"isDefault"`
	IsActive       bool           `json:"isActive"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Covers reports whether total falls within the rule's optional bounds.
func (r DepositRule) Covers(total int64) bool {
	if r.MinQuoteAmount != nil && total < *r.MinQuoteAmount {
		return false
	}
	if r.MaxQuoteAmount != nil && total > *r.MaxQuoteAmount {
		return false
	}
	return true
}

// Apply computes the deposit for total according to the rule type.
func (r DepositRule) Apply(total int64) int64 {
	switch r.Type {
	case DepositFixed:
		return r.FixedAmount
	case DepositPercentage:
		return int64(math.Round(float64(total) * r.Percentage / 100))
	case DepositRanges:
		for _, rg := range r.Ranges {
			if total >= rg.Min && total <= rg.Max {
				if rg.Amount > 0 {
					return rg.Amount
				}
				if rg.Percentage > 0 {
					return int64(math.Round(float64(total) * rg.Percentage / 100))
				}
				return 0
			}
		}
	}
	return 0
}

// Comparison summarises quotes competing on a request.
type Comparison struct {
	Quotes []Quote         `json:"quotes"`
	Stats  ComparisonStats `json:"stats"`
}

// ComparisonStats aggregates quote totals.
type ComparisonStats struct {
	Count     int   `json:"count"`
	MinAmount int64 `json:"minAmount"`
	MaxAmount int64 `json:"maxAmount"`
	AvgAmount int64 `json:"avgAmount"`
}
