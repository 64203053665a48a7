// Package parser turns the visible text of a product card into typed fields.
// Everything here is pure: no I/O, no clock, no shared mutable state.
package parser

import (
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

type Engine interface {
	// Parse extracts every field from a raw card text. ok is false when the
	// card has no price or its normalized title is too short to keep.
	Parse(text string) (fields Fields, ok bool)
	// Describe infers the title-derived fields (brand, type, pack, fat) of an
	// already known title.
	Describe(title, discountPct string) Fields
}

// Fields is the typed result of parsing one card.
type Fields struct {
	Title        string
	Brand        string
	ProductType  string
	FatPct       string
	PackQty      *int
	PackUnit     string
	PriceCurrent float64
	PriceOld     *float64
	DiscountPct  string
	PricePerUnit *float64
	PriceType    models.PriceType
}

// WithPrices sets the price fields. old is kept only when a discount is known.
func (f Fields) WithPrices(current float64, old *float64, discountPct string) Fields {
	f.PriceCurrent = current
	f.DiscountPct = discountPct
	f.PriceType = models.PriceTypeRegular
	f.PriceOld = nil
	if discountPct != "" {
		f.PriceType = models.PriceTypeDiscount
		f.PriceOld = old
	}
	f.PricePerUnit = PricePerUnit(current, f.PackQty, f.PackUnit)
	return f
}
