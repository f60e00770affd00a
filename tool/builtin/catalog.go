package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stallwart/switchboard/tool"
)

// Product is a catalog entry managed by the builtin commerce tools.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Category string  `json:"category,omitempty"`
}

// Sale is a recorded sale used by the sales_summary tool.
type Sale struct {
	ProductID string
	Units     int
	Revenue   float64
	At        time.Time
}

// Catalog is a small in-memory product store backing the builtin commerce
// tools. It stands in for a real inventory service in examples and tests.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*Product
	sales    []Sale
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]*Product)}
}

// DefaultCatalog returns a catalog seeded with demo products and a week of
// sales, ready to wire into examples.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Seed(
		&Product{ID: "sku-1001", Name: "Espresso Beans 1kg", Price: 18.50, Stock: 42, Category: "coffee"},
		&Product{ID: "sku-1002", Name: "Cold Brew Bottle", Price: 6.90, Stock: 120, Category: "coffee"},
		&Product{ID: "sku-1003", Name: "Ceramic Mug", Price: 12.00, Stock: 64, Category: "accessories"},
		&Product{ID: "sku-1004", Name: "Matcha Starter Kit", Price: 34.00, Stock: 15, Category: "tea"},
	)
	now := time.Now()
	c.RecordSale(Sale{ProductID: "sku-1001", Units: 12, Revenue: 222.00, At: now.Add(-24 * time.Hour)})
	c.RecordSale(Sale{ProductID: "sku-1001", Units: 7, Revenue: 129.50, At: now.Add(-3 * 24 * time.Hour)})
	c.RecordSale(Sale{ProductID: "sku-1002", Units: 30, Revenue: 207.00, At: now.Add(-2 * 24 * time.Hour)})
	c.RecordSale(Sale{ProductID: "sku-1003", Units: 5, Revenue: 60.00, At: now.Add(-6 * 24 * time.Hour)})
	return c
}

// Seed adds products, replacing any with the same id.
func (c *Catalog) Seed(products ...*Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range products {
		if p == nil || p.ID == "" {
			continue
		}
		copied := *p
		c.products[p.ID] = &copied
	}
}

// RecordSale appends a sale record.
func (c *Catalog) RecordSale(sale Sale) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sales = append(c.sales, sale)
}

// Product returns a copy of the product with the given id.
func (c *Catalog) Product(id string) (*Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, false
	}
	copied := *p
	return &copied, true
}

// Tools returns the commerce tool set backed by this catalog. Every tool
// responds with a JSON envelope carrying an explicit success flag.
func (c *Catalog) Tools() []*tool.Tool {
	return []*tool.Tool{
		c.getProductTool(),
		c.listProductsTool(),
		c.updatePriceTool(),
		c.salesSummaryTool(),
	}
}

// Register adds the catalog tools to a registry.
func (c *Catalog) Register(registry *tool.Registry) error {
	for _, t := range c.Tools() {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}

// Provider returns a static provider exposing the catalog tools.
func (c *Catalog) Provider() *tool.StaticProvider {
	registry := tool.NewRegistry()
	for _, t := range c.Tools() {
		_ = registry.Register(t)
	}
	return tool.NewStaticProvider(registry)
}

// Notices maps builtin tool names to the progress notice shown while the
// tool runs.
func Notices() map[string]string {
	return map[string]string{
		"get_product":   "Looking up product details...",
		"list_products": "Fetching the product list...",
		"update_price":  "Updating the price...",
		"sales_summary": "Crunching sales numbers...",
		"fetch_page":    "Reading the page...",
	}
}

// NoticeOptions returns executor options that register all builtin notices.
func NoticeOptions() []tool.ExecutorOption {
	notices := Notices()
	opts := make([]tool.ExecutorOption, 0, len(notices))
	for name, notice := range notices {
		opts = append(opts, tool.WithNotice(name, notice))
	}
	return opts
}

func (c *Catalog) getProductTool() *tool.Tool {
	return &tool.Tool{
		Name:        "get_product",
		Description: "Look up a product by id",
		Parameters: []tool.Parameter{
			{Name: "product_id", Type: "string", Description: "Product id, e.g. sku-1001", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			id, _ := args["product_id"].(string)
			p, ok := c.Product(id)
			if !ok {
				return envelope(map[string]interface{}{
					"success": false,
					"error":   fmt.Sprintf("product %s not found", id),
				}), nil
			}
			return envelope(map[string]interface{}{
				"success": true,
				"product": p,
			}), nil
		},
	}
}

func (c *Catalog) listProductsTool() *tool.Tool {
	return &tool.Tool{
		Name:        "list_products",
		Description: "List products, optionally filtered by category",
		Parameters: []tool.Parameter{
			{Name: "category", Type: "string", Description: "Filter by category"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			category, _ := args["category"].(string)

			c.mu.RLock()
			products := make([]*Product, 0, len(c.products))
			for _, p := range c.products {
				if category != "" && !strings.EqualFold(p.Category, category) {
					continue
				}
				copied := *p
				products = append(products, &copied)
			}
			c.mu.RUnlock()

			sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

			return envelope(map[string]interface{}{
				"success":  true,
				"count":    len(products),
				"products": products,
			}), nil
		},
	}
}

func (c *Catalog) updatePriceTool() *tool.Tool {
	return &tool.Tool{
		Name:        "update_price",
		Description: "Set a new price for a product",
		Parameters: []tool.Parameter{
			{Name: "product_id", Type: "string", Description: "Product id", Required: true},
			{Name: "price", Type: "number", Description: "New price, must be positive", Required: true},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			id, _ := args["product_id"].(string)
			price, ok := floatArg(args, "price")
			if !ok || price <= 0 {
				return envelope(map[string]interface{}{
					"success": false,
					"error":   "invalid price: must be a positive number",
				}), nil
			}

			c.mu.Lock()
			p, exists := c.products[id]
			if exists {
				p.Price = price
			}
			c.mu.Unlock()

			if !exists {
				return envelope(map[string]interface{}{
					"success": false,
					"error":   fmt.Sprintf("product %s not found", id),
				}), nil
			}

			updated, _ := c.Product(id)
			return envelope(map[string]interface{}{
				"success": true,
				"product": updated,
			}), nil
		},
	}
}

func (c *Catalog) salesSummaryTool() *tool.Tool {
	return &tool.Tool{
		Name:        "sales_summary",
		Description: "Summarize units sold and revenue over recent days",
		Parameters: []tool.Parameter{
			{Name: "product_id", Type: "string", Description: "Restrict to one product"},
			{Name: "days", Type: "number", Description: "Window in days", Default: 7},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			id, _ := args["product_id"].(string)
			days, ok := floatArg(args, "days")
			if !ok || days <= 0 {
				days = 7
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

			var units int
			var revenue float64
			c.mu.RLock()
			for _, sale := range c.sales {
				if sale.At.Before(cutoff) {
					continue
				}
				if id != "" && sale.ProductID != id {
					continue
				}
				units += sale.Units
				revenue += sale.Revenue
			}
			c.mu.RUnlock()

			return envelope(map[string]interface{}{
				"success": true,
				"days":    days,
				"units":   units,
				"revenue": revenue,
			}), nil
		},
	}
}

func envelope(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success": false, "error": "failed to encode response"}`
	}
	return string(data)
}

func floatArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
