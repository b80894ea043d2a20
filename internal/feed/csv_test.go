package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
)

var fixedNow = time.Date(2024, 6, 18, 12, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	p := NewParser()
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestParseTemplate(t *testing.T) {
	result, err := newTestParser().Parse(strings.NewReader(Template))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.TotalRows != 2 || result.ValidRows != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	first := result.Prices[0]
	if first.SKU != "57163" || first.CompetitorName != "Loja Exemplo" {
		t.Errorf("unexpected row: %+v", first)
	}
	if first.Price != 450 {
		t.Errorf("expected price 450, got %v", first.Price)
	}
	if first.Marketplace != domain.MarketplaceMLClassico {
		t.Errorf("unexpected marketplace %s", first.Marketplace)
	}
	want := time.Date(2024, 6, 18, 10, 0, 0, 0, time.UTC)
	if !first.CapturedAt.Equal(want) {
		t.Errorf("expected captured_at %v, got %v", want, first.CapturedAt)
	}
}

func TestParseRowErrors(t *testing.T) {
	input := strings.Join([]string{
		"sku,competitor_name,competitor_price,marketplace,captured_at",
		"A1,Loja,10.00,magalu,",
		",Loja,10.00,magalu,",
		"A2,,10.00,magalu,",
		"A3,Loja,abc,magalu,",
		"A4,Loja,0,magalu,",
		"A5,Loja,10.00,ebay,",
		"A6,Loja,10.00,shopee,yesterday",
		"",
		"A7,Loja,12.50,SHOPEE,2024-06-18T09:30:00-03:00",
	}, "\n")

	result, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.TotalRows != 8 {
		t.Errorf("expected 8 rows, got %d", result.TotalRows)
	}
	if result.ValidRows != 2 {
		t.Fatalf("expected 2 valid rows, got %d (%v)", result.ValidRows, result.Errors)
	}

	wantFields := map[int]string{
		3: ColSKU,
		4: ColCompetitorName,
		5: ColPrice,
		6: ColPrice,
		7: ColMarketplace,
		8: ColCapturedAt,
	}
	if len(result.Errors) != len(wantFields) {
		t.Fatalf("expected %d errors, got %v", len(wantFields), result.Errors)
	}
	for _, e := range result.Errors {
		if wantFields[e.Line] != e.Field {
			t.Errorf("line %d: expected field %q, got %q", e.Line, wantFields[e.Line], e.Field)
		}
	}

	t.Run("MissingCapturedAtDefaultsToNow", func(t *testing.T) {
		if !result.Prices[0].CapturedAt.Equal(fixedNow) {
			t.Errorf("expected %v, got %v", fixedNow, result.Prices[0].CapturedAt)
		}
	})

	t.Run("RFC3339WithZone", func(t *testing.T) {
		got := result.Prices[1]
		if got.Marketplace != domain.MarketplaceShopee {
			t.Errorf("expected lowercased marketplace, got %s", got.Marketplace)
		}
		want := time.Date(2024, 6, 18, 12, 30, 0, 0, time.UTC)
		if !got.CapturedAt.Equal(want) {
			t.Errorf("expected %v, got %v", want, got.CapturedAt)
		}
	})
}

func TestParseSemicolonExport(t *testing.T) {
	input := "\ufeffSKU;Competitor_Name;Competitor_Price;Marketplace\n" +
		"B1;Loja Um;\"1.250,90\";amazon\n" +
		"B2;Loja Dois;R$ 99,90;amazon\n"

	result, err := newTestParser().Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result.ValidRows != 2 {
		t.Fatalf("expected 2 valid rows, got %+v", result)
	}
	if result.Prices[0].Price != 1250.90 {
		t.Errorf("expected 1250.90, got %v", result.Prices[0].Price)
	}
	if result.Prices[1].Price != 99.90 {
		t.Errorf("expected 99.90, got %v", result.Prices[1].Price)
	}
}

func TestParseMissingColumns(t *testing.T) {
	_, err := newTestParser().Parse(strings.NewReader("sku,competitor_price\nA1,10\n"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	if !strings.Contains(err.Error(), ColCompetitorName) || !strings.Contains(err.Error(), ColMarketplace) {
		t.Errorf("expected missing column names in %q", err)
	}

	if _, err := newTestParser().Parse(strings.NewReader("")); !errors.Is(err, ErrMissingColumns) {
		t.Errorf("expected ErrMissingColumns for empty file, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"450.00", 450, false},
		{"450,00", 450, false},
		{"1.250,00", 1250, false},
		{"1,250.00", 1250, false},
		{"R$ 99,90", 99.9, false},
		{"10.005", 10.01, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

type fakeWriter struct {
	sellerID string
	saved    []domain.CompetitorPrice
	err      error
}

func (w *fakeWriter) SaveCompetitorPrices(ctx context.Context, sellerID string, prices []domain.CompetitorPrice) error {
	if w.err != nil {
		return w.err
	}
	w.sellerID = sellerID
	w.saved = append(w.saved, prices...)
	return nil
}

type fakeInvalidator struct {
	skus []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, sellerID string, skus ...string) error {
	f.skus = append(f.skus, skus...)
	return nil
}

func TestImporter(t *testing.T) {
	ctx := context.Background()
	input := Template + "57163,Terceira Loja,440.00,mercadolivre_classico,\nbad,row\n"

	t.Run("SavesValidRowsAndInvalidates", func(t *testing.T) {
		writer := &fakeWriter{}
		inv := &fakeInvalidator{}
		importer := NewImporter(writer, inv)

		result, err := importer.Import(ctx, "seller-001", strings.NewReader(input))
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if result.ValidRows != 3 || len(result.Errors) != 1 {
			t.Errorf("unexpected result: %+v", result)
		}
		if writer.sellerID != "seller-001" || len(writer.saved) != 3 {
			t.Errorf("expected 3 rows saved for seller-001, got %d for %q", len(writer.saved), writer.sellerID)
		}
		if len(inv.skus) != 2 {
			t.Errorf("expected 2 distinct skus invalidated, got %v", inv.skus)
		}
	})

	t.Run("NilCache", func(t *testing.T) {
		if _, err := NewImporter(&fakeWriter{}, nil).Import(ctx, "seller-001", strings.NewReader(Template)); err != nil {
			t.Fatalf("Import failed: %v", err)
		}
	})

	t.Run("WriteFailure", func(t *testing.T) {
		importer := NewImporter(&fakeWriter{err: errors.New("disk full")}, nil)
		if _, err := importer.Import(ctx, "seller-001", strings.NewReader(Template)); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("NothingValid", func(t *testing.T) {
		writer := &fakeWriter{err: errors.New("should not be called")}
		result, err := NewImporter(writer, nil).Import(ctx, "seller-001", strings.NewReader("sku,competitor_name,competitor_price,marketplace\nA,B,-1,magalu\n"))
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if result.ValidRows != 0 || len(result.Errors) != 1 {
			t.Errorf("unexpected result: %+v", result)
		}
	})
}
