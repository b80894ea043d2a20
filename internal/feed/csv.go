// Package feed imports competitor price observations from CSV exports.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/repricer/internal/domain"
)

// Column names of the import template.
const (
	ColSKU            = "sku"
	ColCompetitorName = "competitor_name"
	ColPrice          = "competitor_price"
	ColMarketplace    = "marketplace"
	ColCapturedAt     = "captured_at"
)

// Template is the header plus example rows offered for download.
const Template = `sku,competitor_name,competitor_price,marketplace,captured_at
57163,Loja Exemplo,450.00,mercadolivre_classico,2024-06-18 10:00
22263,Outra Loja,1250.00,mercadolivre_premium,2024-06-18 10:00
`

var requiredColumns = []string{ColSKU, ColCompetitorName, ColPrice, ColMarketplace}

// capturedAtLayouts are tried in order.
var capturedAtLayouts = []string{
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ErrMissingColumns is returned when the header lacks a required column.
var ErrMissingColumns = errors.New("missing required columns")

// RowError describes one rejected row. Line is 1-based and counts the header.
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d: %s %q: %s", e.Line, e.Field, e.Value, e.Message)
}

// ParseResult holds the good rows and the per-row errors of one file.
type ParseResult struct {
	Prices    []domain.CompetitorPrice `json:"-"`
	TotalRows int                      `json:"totalRows"`
	ValidRows int                      `json:"validRows"`
	Errors    []RowError               `json:"errors,omitempty"`
}

// Parser reads the competitor price template.
type Parser struct {
	// Location interprets captured_at values without a zone.
	Location *time.Location
	now      func() time.Time
}

// NewParser returns a parser that reads zone-less timestamps as UTC.
func NewParser() *Parser {
	return &Parser{Location: time.UTC, now: time.Now}
}

// Parse reads a whole file. Bad rows are reported and skipped; only an
// unreadable file or header is an error.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	text := strings.TrimPrefix(string(content), "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumns)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	result := &ParseResult{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line++
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
				err = pe.Err
			}
			result.TotalRows++
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		line, _ = reader.FieldPos(0)
		if isEmptyRow(record) {
			continue
		}
		result.TotalRows++

		price, rowErr := p.parseRow(record, cols, line)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		result.Prices = append(result.Prices, price)
		result.ValidRows++
	}

	return result, nil
}

func (p *Parser) parseRow(record []string, cols map[string]int, line int) (domain.CompetitorPrice, *RowError) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	cp := domain.CompetitorPrice{
		SKU:            field(ColSKU),
		CompetitorName: field(ColCompetitorName),
		Marketplace:    domain.Marketplace(strings.ToLower(field(ColMarketplace))),
	}

	if cp.SKU == "" {
		return cp, &RowError{Line: line, Field: ColSKU, Message: "sku is required"}
	}
	if cp.CompetitorName == "" {
		return cp, &RowError{Line: line, Field: ColCompetitorName, Message: "competitor name is required"}
	}
	if !cp.Marketplace.Valid() {
		return cp, &RowError{Line: line, Field: ColMarketplace, Value: string(cp.Marketplace), Message: "unknown marketplace"}
	}

	raw := field(ColPrice)
	price, err := ParsePrice(raw)
	if err != nil {
		return cp, &RowError{Line: line, Field: ColPrice, Value: raw, Message: err.Error()}
	}
	if price <= 0 {
		return cp, &RowError{Line: line, Field: ColPrice, Value: raw, Message: "price must be positive"}
	}
	cp.Price = price

	rawTime := field(ColCapturedAt)
	if rawTime == "" {
		cp.CapturedAt = p.now().UTC()
	} else {
		at, err := p.parseTime(rawTime)
		if err != nil {
			return cp, &RowError{Line: line, Field: ColCapturedAt, Value: rawTime, Message: err.Error()}
		}
		cp.CapturedAt = at
	}

	return cp, nil
}

func (p *Parser) parseTime(s string) (time.Time, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range capturedAtLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expected YYYY-MM-DD HH:mm or RFC3339")
}

// ParsePrice reads "450.00", "450,00", "1.250,00", "1,250.00" or "R$ 99,90",
// rounded to cents.
func ParsePrice(value string) (float64, error) {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.TrimPrefix(strings.ToUpper(cleaned), "R$")
	cleaned = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty price value")
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastComma > lastDot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot > lastComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("invalid price format")
	}
	return d.Round(2).InexactFloat64(), nil
}

// detectDelimiter picks ';' when the header has more semicolons than commas.
func detectDelimiter(content string) rune {
	first := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		first = content[:i]
	}
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

func isEmptyRow(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
