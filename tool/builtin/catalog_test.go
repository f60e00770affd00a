package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stallwart/switchboard/tool"
)

func decodeEnvelope(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("Response is not valid JSON: %v (%s)", err, content)
	}
	return payload
}

func runTool(t *testing.T, tl *tool.Tool, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	content, err := tl.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Tool %s failed: %v", tl.Name, err)
	}
	return decodeEnvelope(t, content)
}

func findTool(t *testing.T, c *Catalog, name string) *tool.Tool {
	t.Helper()
	for _, tl := range c.Tools() {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("Tool %s not found", name)
	return nil
}

func TestGetProduct(t *testing.T) {
	c := DefaultCatalog()
	get := findTool(t, c, "get_product")

	payload := runTool(t, get, map[string]interface{}{"product_id": "sku-1001"})
	if payload["success"] != true {
		t.Errorf("Expected success envelope, got %v", payload)
	}
	product, _ := payload["product"].(map[string]interface{})
	if product["name"] != "Espresso Beans 1kg" {
		t.Errorf("Expected product name, got %v", product["name"])
	}

	payload = runTool(t, get, map[string]interface{}{"product_id": "sku-9999"})
	if payload["success"] != false {
		t.Errorf("Expected failure envelope for unknown product, got %v", payload)
	}
}

func TestEnvelopeClassification(t *testing.T) {
	c := DefaultCatalog()
	get := findTool(t, c, "get_product")

	content, err := get.Execute(context.Background(), map[string]interface{}{"product_id": "sku-9999"})
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}
	if got := tool.Classify(content); got != tool.StatusError {
		t.Errorf("Expected failure envelope to classify as error, got %s", got)
	}

	content, err = get.Execute(context.Background(), map[string]interface{}{"product_id": "sku-1001"})
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}
	if got := tool.Classify(content); got != tool.StatusSuccess {
		t.Errorf("Expected success envelope to classify as success, got %s", got)
	}
}

func TestUpdatePrice(t *testing.T) {
	c := DefaultCatalog()
	update := findTool(t, c, "update_price")

	payload := runTool(t, update, map[string]interface{}{"product_id": "sku-1003", "price": 14.5})
	if payload["success"] != true {
		t.Fatalf("Expected success, got %v", payload)
	}

	p, ok := c.Product("sku-1003")
	if !ok || p.Price != 14.5 {
		t.Errorf("Expected price 14.5 persisted, got %+v", p)
	}

	payload = runTool(t, update, map[string]interface{}{"product_id": "sku-1003", "price": -2.0})
	if payload["success"] != false {
		t.Errorf("Expected failure for negative price, got %v", payload)
	}

	payload = runTool(t, update, map[string]interface{}{"product_id": "sku-9999", "price": 5.0})
	if payload["success"] != false {
		t.Errorf("Expected failure for unknown product, got %v", payload)
	}
}

func TestListProductsFilter(t *testing.T) {
	c := DefaultCatalog()
	list := findTool(t, c, "list_products")

	payload := runTool(t, list, map[string]interface{}{"category": "coffee"})
	if payload["count"] != float64(2) {
		t.Errorf("Expected 2 coffee products, got %v", payload["count"])
	}

	products, _ := payload["products"].([]interface{})
	if len(products) != 2 {
		t.Fatalf("Expected 2 products, got %d", len(products))
	}
	first, _ := products[0].(map[string]interface{})
	if first["id"] != "sku-1001" {
		t.Errorf("Expected products sorted by id, got %v first", first["id"])
	}
}

func TestSalesSummaryWindow(t *testing.T) {
	c := NewCatalog()
	c.Seed(&Product{ID: "sku-1", Name: "Widget", Price: 10})
	now := time.Now()
	c.RecordSale(Sale{ProductID: "sku-1", Units: 5, Revenue: 10.0, At: now.Add(-time.Hour)})
	c.RecordSale(Sale{ProductID: "sku-1", Units: 9, Revenue: 20.0, At: now.Add(-72 * time.Hour)})

	summary := findTool(t, c, "sales_summary")

	payload := runTool(t, summary, map[string]interface{}{"days": 1})
	if payload["units"] != float64(5) {
		t.Errorf("Expected 5 units inside 1-day window, got %v", payload["units"])
	}

	payload = runTool(t, summary, map[string]interface{}{"days": 30})
	if payload["units"] != float64(14) {
		t.Errorf("Expected 14 units inside 30-day window, got %v", payload["units"])
	}
	if payload["revenue"] != float64(30) {
		t.Errorf("Expected revenue 30, got %v", payload["revenue"])
	}
}

func TestCatalogProviderExposesTools(t *testing.T) {
	c := DefaultCatalog()
	provider := c.Provider()

	tools, err := provider.Tools(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	if len(tools) != 4 {
		t.Errorf("Expected 4 tools, got %d", len(tools))
	}
}
