package intent

import (
	"context"
	"strings"
)

// Well-known intent labels produced by the default classifier.
const (
	ProductManagement = "product_management"
	Analytics         = "analytics"
	Pricing           = "pricing"
	General           = "general"
)

// Classifier decides the intent label for a user message. Classification is a
// pluggable policy; the default implementation is a keyword scan.
type Classifier interface {
	Classify(ctx context.Context, text string) string
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, text string) string

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, text string) string {
	return f(ctx, text)
}

// Category couples an intent label with the keywords that claim it.
type Category struct {
	Intent   string
	Keywords []string
}

// KeywordClassifier scans the lowercased message for category keywords.
// Categories are checked in a fixed order, so the first category with a
// matching keyword wins and ties cannot occur.
type KeywordClassifier struct {
	categories []Category
	fallback   string
}

// NewKeywordClassifier builds a classifier over the given categories, checked
// in the order given. With no arguments it uses the default commerce
// taxonomy: product management, analytics, pricing, then the general
// fallback.
func NewKeywordClassifier(categories ...Category) *KeywordClassifier {
	if len(categories) == 0 {
		categories = defaultCategories()
	}
	return &KeywordClassifier{
		categories: categories,
		fallback:   General,
	}
}

// WithFallback sets the label returned when no category matches.
func (c *KeywordClassifier) WithFallback(intent string) *KeywordClassifier {
	c.fallback = intent
	return c
}

// Classify returns the first matching category's intent, or the fallback.
func (c *KeywordClassifier) Classify(_ context.Context, text string) string {
	lower := strings.ToLower(text)
	for _, cat := range c.categories {
		for _, kw := range cat.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return cat.Intent
			}
		}
	}
	return c.fallback
}

func defaultCategories() []Category {
	return []Category{
		{
			Intent: ProductManagement,
			Keywords: []string{
				"product", "listing", "inventory", "catalog", "sku",
				"stock", "publish", "item",
			},
		},
		{
			Intent: Analytics,
			Keywords: []string{
				"analytics", "report", "sales", "performance", "stats",
				"trend", "metric", "conversion",
			},
		},
		{
			Intent: Pricing,
			Keywords: []string{
				"price", "pricing", "discount", "margin", "cost",
				"promotion", "markdown",
			},
		},
	}
}
