package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/rules"
)

const productsJSON = `[
  {
    "sku": "SKU-1",
    "name": "Fone Bluetooth",
    "brand": "Acme",
    "stock": 10,
    "cost": 50,
    "listings": [{"marketplace": "mercadolivre_classico", "price": 100}]
  }
]`

const competitorsCSV = `sku,competitor_name,competitor_price,marketplace,captured_at
SKU-1,Loja A,95.00,mercadolivre_classico,2024-06-18 10:00
SKU-1,Loja B,abc,mercadolivre_classico,2024-06-18 10:00
`

const ruleJSON = `{
  "name": "Undercut lowest",
  "ruleType": "competitor_based",
  "status": "active",
  "priority": 70,
  "skuSelection": {"type": "manual", "manualSkus": ["SKU-1"]}
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// run executes pricectl against a database in dir and returns stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", filepath.Join(dir, "repricer.db"), "--seller", "seller-001"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("pricectl %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestWorkflow(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	products := writeFile(t, dir, "products.json", productsJSON)
	competitors := writeFile(t, dir, "competitors.csv", competitorsCSV)
	ruleFile := writeFile(t, dir, "rule.json", ruleJSON)

	t.Run("LoadProducts", func(t *testing.T) {
		out := mustRun(t, dir, "products", "load", products)
		if !strings.Contains(out, "Loaded 1 products") {
			t.Errorf("unexpected output: %q", out)
		}
		out = mustRun(t, dir, "products", "list")
		if !strings.Contains(out, "SKU-1") || !strings.Contains(out, "mercadolivre_classico") {
			t.Errorf("expected product row, got %q", out)
		}
	})

	t.Run("Import", func(t *testing.T) {
		out := mustRun(t, dir, "import", competitors)
		if !strings.Contains(out, "Imported 1 of 2 rows") {
			t.Errorf("unexpected summary: %q", out)
		}
		if !strings.Contains(out, "competitor_price") {
			t.Errorf("expected row error for bad price, got %q", out)
		}
	})

	var rule domain.PricingRule
	t.Run("AddRule", func(t *testing.T) {
		out := mustRun(t, dir, "rules", "add", ruleFile)
		if !strings.Contains(out, "Created rule") {
			t.Fatalf("unexpected output: %q", out)
		}

		var list []*domain.PricingRule
		if err := json.Unmarshal([]byte(mustRun(t, dir, "rules", "--format", "json")), &list); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(list))
		}
		rule = *list[0]
		if rule.Status != domain.RuleActive || rule.Priority != 70 {
			t.Errorf("unexpected rule: %+v", rule)
		}
	})

	t.Run("Simulate", func(t *testing.T) {
		var summary domain.SimulationSummary
		out := mustRun(t, dir, "simulate", rule.ID, "--format", "json")
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if summary.RuleID != rule.ID || summary.TotalAnalyzed != 1 {
			t.Errorf("unexpected summary: %+v", summary)
		}

		table := mustRun(t, dir, "simulate", rule.ID)
		if !strings.Contains(table, "SUGGESTED") || !strings.Contains(table, "SKU-1") {
			t.Errorf("unexpected table: %q", table)
		}
	})

	t.Run("Execute", func(t *testing.T) {
		var log domain.ExecutionLog
		out := mustRun(t, dir, "execute", rule.ID, "--format", "json")
		if err := json.Unmarshal([]byte(out), &log); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if log.RuleID != rule.ID || log.Summary.TotalSkusAnalyzed != 1 {
			t.Errorf("unexpected log: %+v", log)
		}

		history := mustRun(t, dir, "logs", "--rule", rule.ID)
		if !strings.Contains(history, log.ID) {
			t.Errorf("expected log %s in history, got %q", log.ID, history)
		}
	})

	t.Run("RunAll", func(t *testing.T) {
		var result rules.BatchResult
		out := mustRun(t, dir, "run-all", "--format", "json")
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if len(result.Logs) != 1 {
			t.Errorf("expected 1 rule log, got %d", len(result.Logs))
		}
	})

	t.Run("PauseRule", func(t *testing.T) {
		mustRun(t, dir, "rules", "status", rule.ID, "paused")
		if _, err := run(t, dir, "execute", rule.ID); err == nil {
			t.Error("expected paused rule to be rejected")
		}
	})
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	tests := []struct {
		name string
		args []string
	}{
		{"UnknownFormat", []string{"rules", "--format", "xml"}},
		{"UnknownRule", []string{"simulate", "missing"}},
		{"InvalidStatus", []string{"rules", "status", "x", "archived"}},
		{"MissingFile", []string{"import", filepath.Join(dir, "nope.csv")}},
		{"NegativeLimit", []string{"logs", "--limit", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, dir, tt.args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}

	t.Run("ImportWithoutValidRows", func(t *testing.T) {
		path := writeFile(t, dir, "bad.csv", "sku,competitor_name,competitor_price,marketplace\nSKU-1,Loja,0,amazon\n")
		if _, err := run(t, dir, "import", path); err == nil {
			t.Error("expected error when no row is valid")
		}
	})

	t.Run("Template", func(t *testing.T) {
		out := mustRun(t, dir, "import", "--template")
		if !strings.HasPrefix(out, "sku,competitor_name,competitor_price") {
			t.Errorf("unexpected template: %q", out)
		}
	})
}

func TestDecodeRule(t *testing.T) {
	rule, err := decodeRule([]byte(`{"name":"Margin floor","ruleType":"margin_based"}`))
	if err != nil {
		t.Fatalf("decodeRule failed: %v", err)
	}
	if rule.Status != domain.RuleDraft || rule.Priority != domain.DefaultPriority {
		t.Errorf("expected editor defaults, got %+v", rule)
	}

	if _, err := decodeRule([]byte(`{"name":"x","ruleType":"magic"}`)); err == nil {
		t.Error("expected error for unknown rule type")
	}
	if _, err := decodeRule([]byte(`{"name":"Paused","ruleType":"margin_based","status":"paused"}`)); err == nil {
		t.Error("expected error for paused rule")
	}
}
