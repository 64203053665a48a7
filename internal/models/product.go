package models

import (
	"time"
)

// Canonical pack units.
const (
	UnitGrams       = "г"
	UnitMillilitres = "мл"
	UnitPieces      = "шт"
)

type PriceType string

const (
	PriceTypeDiscount PriceType = "discount"
	PriceTypeRegular  PriceType = "regular"
)

// ProductRecord is one observation of a product on a listing page.
// Records are never mutated after the extraction chain builds them.
type ProductRecord struct {
	RunID        string    `json:"run_id"`
	ScrapedAt    time.Time `json:"scraped_at"`
	PageNumber   int       `json:"page_number"`
	PageURL      string    `json:"page_url"`
	Source       string    `json:"source"`
	ProductURL   *string   `json:"product_url,omitempty"`
	Title        string    `json:"title"`
	Brand        string    `json:"brand,omitempty"`
	ProductType  string    `json:"product_type,omitempty"`
	FatPct       string    `json:"fat_pct,omitempty"`
	PackQty      *int      `json:"pack_qty,omitempty"`
	PackUnit     string    `json:"pack_unit,omitempty"`
	PriceCurrent float64   `json:"price_current"`
	PriceOld     *float64  `json:"price_old,omitempty"`
	DiscountPct  string    `json:"discount_pct,omitempty"`
	PricePerUnit *float64  `json:"price_per_unit,omitempty"`
	PriceType    PriceType `json:"price_type"`
}

func (p *ProductRecord) Validate() []string {
	var errors []string

	if p.RunID == "" {
		errors = append(errors, "RunID is required")
	}

	if p.PageNumber < 1 {
		errors = append(errors, "PageNumber must be at least 1")
	}

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if !(p.PriceCurrent > 0) {
		errors = append(errors, "PriceCurrent must be positive")
	}

	if p.PriceOld != nil && p.PriceType != PriceTypeDiscount {
		errors = append(errors, "PriceOld is only set for discounted products")
	}

	if (p.PackQty == nil) != (p.PackUnit == "") {
		errors = append(errors, "PackQty and PackUnit must be set together")
	}

	return errors
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func Float64Ptr(f float64) *float64 {
	return &f
}

func IntPtr(i int) *int {
	return &i
}
