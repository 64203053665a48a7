package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// MinTitleLength is the shortest normalized title a card may have.
const MinTitleLength = 5

// CurrencyMarker is the hryvnia label printed after every price.
const CurrencyMarker = "грн"

var (
	priceRe    = regexp.MustCompile(`(\d{1,4}(?:[.,]\d{2})?)\s*грн`)
	discountRe = regexp.MustCompile(`-\s*(\d{1,2})\s*%`)
	fatNamedRe = regexp.MustCompile(`(?i)жир\p{L}*\s*[:\-]?\s*(\d+(?:[.,]\d+)?)\s*%?`)
	percentRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	// Go's \b is ASCII-only, so the unit must be followed by a non-letter instead.
	packRe      = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(кг|г|л|мл|шт)(?:[^\p{L}]|$)`)
	quotedRe    = regexp.MustCompile(`«([^»]{2,30})»`)
	spaceRe     = regexp.MustCompile(`\s+`)
	brandWordRe = regexp.MustCompile(`^\p{Lu}[\p{L}ʼ'’\-]*$`)
)

// maxLeadingBrand bounds the capitalized-phrase brand heuristic, in runes.
const maxLeadingBrand = 25

// Longer names come before their prefixes ("Білоцерківське" before "Біло").
var knownBrands = []string{
	"Яготинське", "Ферма", "Галичина", "Селянське", "ПростоНаше", "Премія", "Молокія", "Lactel", "Бурьонка",
	"Даніссімо", "Активіа", "Простоквашино", "Чудо", "Агуня", "Растішка", "Actimel", "Danone", "Muller",
	"Білоцерківське", "Біло", "Тульчинка", "Злагода", "President", "Alpro", "Valio", "Elle&Vire",
}

var genericWords = map[string]struct{}{
	"Молоко": {}, "Вершки": {}, "Кефір": {}, "Сметана": {}, "Ряжанка": {}, "Йогурт": {}, "Масло": {},
	"Маргарин": {}, "Яйця": {}, "Яйце": {}, "Сир": {}, "Сирок": {}, "Десерт": {}, "Творог": {},
	"Згущене": {}, "Напій": {}, "Продукт": {},
}

type productType struct {
	label    string
	keywords []string
}

// Order matters: the first entry with a matching keyword wins.
var productTypes = []productType{
	{"молоко", []string{"молоко"}},
	{"вершки", []string{"вершки"}},
	{"сметана", []string{"сметана"}},
	{"йогурт", []string{"йогурт"}},
	{"кефір", []string{"кефір"}},
	{"ряжанка", []string{"ряжанка"}},
	{"масло", []string{"масло"}},
	{"маргарин", []string{"маргарин"}},
	{"сир", []string{"сир", "бринза", "моцар", "чед", "гауда"}},
	{"сирок", []string{"сирок"}},
	{"десерт", []string{"десерт"}},
	{"творог", []string{"творог", "кисломолочний"}},
	{"згущене", []string{"згущене"}},
	{"яйця", []string{"яйце", "яйця"}},
}

// SilpoParser implements Engine for silpo.ua listing cards.
type SilpoParser struct{}

func NewSilpoParser() *SilpoParser {
	return &SilpoParser{}
}

func (p *SilpoParser) Parse(text string) (Fields, bool) {
	discount := ExtractDiscount(text)
	current, old, found := ExtractPrices(text)
	if !found {
		return Fields{}, false
	}

	title := NormalizeTitle(text)
	if utf8.RuneCountInString(title) < MinTitleLength {
		return Fields{}, false
	}

	return p.Describe(title, discount).WithPrices(current, old, discount), true
}

func (p *SilpoParser) Describe(title, discountPct string) Fields {
	title = NormalizeTitle(title)
	qty, unit := ExtractPack(title)
	return Fields{
		Title:       title,
		Brand:       InferBrand(title),
		ProductType: InferProductType(title),
		FatPct:      ExtractFat(title, discountPct),
		PackQty:     qty,
		PackUnit:    unit,
	}
}

// ExtractPrices returns the first price token as current and the second, if any, as old.
func ExtractPrices(text string) (current float64, old *float64, found bool) {
	matches := priceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, nil, false
	}

	current, err := toNum(matches[0][1])
	if err != nil || current <= 0 {
		return 0, nil, false
	}

	if len(matches) >= 2 {
		if v, err := toNum(matches[1][1]); err == nil && v > 0 {
			old = &v
		}
	}

	return current, old, true
}

// ExtractDiscount returns the digits of a "-NN%" badge, or "".
func ExtractDiscount(text string) string {
	m := discountRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractFat prefers a value next to a fat keyword, then the first bare
// percentage in [0,50] that is not the discount badge.
func ExtractFat(title, discountPct string) string {
	if m := fatNamedRe.FindStringSubmatch(title); m != nil {
		if v, err := toNum(m[1]); err == nil && v >= 0 && v <= 50 {
			return strings.Replace(m[1], ",", ".", 1)
		}
	}

	for _, m := range percentRe.FindAllStringSubmatch(title, -1) {
		v, err := toNum(m[1])
		if err != nil || v < 0 || v > 50 {
			continue
		}
		if discountPct != "" && strconv.Itoa(int(math.Round(v))) == discountPct {
			continue
		}
		return strings.Replace(m[1], ",", ".", 1)
	}

	return ""
}

// ExtractPack returns the pack size in canonical units (г, мл, шт).
func ExtractPack(title string) (*int, string) {
	m := packRe.FindStringSubmatch(strings.ToLower(title))
	if m == nil {
		return nil, ""
	}

	raw, err := toNum(m[1])
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return nil, ""
	}

	var qty float64
	var unit string
	switch m[2] {
	case "л":
		qty, unit = raw*1000, models.UnitMillilitres
	case "кг":
		qty, unit = raw*1000, models.UnitGrams
	case "мл":
		qty, unit = raw, models.UnitMillilitres
	case "г":
		qty, unit = raw, models.UnitGrams
	case "шт":
		qty, unit = raw, models.UnitPieces
	default:
		return nil, ""
	}

	rounded := int(math.Round(qty))
	if rounded <= 0 {
		return nil, ""
	}
	return &rounded, unit
}

// InferBrand tries, in order: a «quoted» span, the curated list, a leading capitalized phrase.
func InferBrand(title string) string {
	if m := quotedRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}

	for _, b := range knownBrands {
		if strings.Contains(title, b) {
			return b
		}
	}

	candidate := leadingPhrase(title)
	if _, generic := genericWords[candidate]; generic {
		return ""
	}
	if utf8.RuneCountInString(candidate) <= 2 {
		return ""
	}
	return candidate
}

func leadingPhrase(title string) string {
	var words []string
	length := 0
	for _, w := range strings.Fields(title) {
		if !brandWordRe.MatchString(w) {
			break
		}
		n := utf8.RuneCountInString(w)
		if len(words) > 0 {
			n++
		}
		if length+n > maxLeadingBrand {
			break
		}
		words = append(words, w)
		length += n
	}
	return strings.Join(words, " ")
}

func InferProductType(title string) string {
	t := strings.ToLower(title)
	for _, pt := range productTypes {
		for _, k := range pt.keywords {
			if strings.Contains(t, k) {
				return pt.label
			}
		}
	}
	return ""
}

// NormalizeTitle removes price and discount tokens and collapses whitespace.
func NormalizeTitle(text string) string {
	s := priceRe.ReplaceAllString(text, " ")
	s = discountRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimFunc(s, unicode.IsSpace)
}

// PricePerUnit is the price per kilogram/litre, or per piece for шт.
func PricePerUnit(price float64, qty *int, unit string) *float64 {
	if qty == nil || *qty <= 0 || unit == "" {
		return nil
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil
	}

	var per float64
	if unit == models.UnitPieces {
		per = price / float64(*qty)
	} else {
		per = price / (float64(*qty) / 1000)
	}

	per = math.Round(per*100) / 100
	return &per
}

func toNum(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
}
