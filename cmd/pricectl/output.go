package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/feed"
	"github.com/opensource-finance/repricer/internal/rules"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printImport(w io.Writer, format string, res *feed.ParseResult) error {
	if format == "json" {
		return printJSON(w, res)
	}

	fmt.Fprintf(w, "Imported %d of %d rows\n", res.ValidRows, res.TotalRows)
	if len(res.Errors) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "LINE\tFIELD\tVALUE\tERROR")
	for _, e := range res.Errors {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Line, e.Field, e.Value, e.Message)
	}
	return tw.Flush()
}

func printProducts(w io.Writer, format string, products []*domain.Product) error {
	if format == "json" {
		return printJSON(w, products)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "SKU\tNAME\tBRAND\tSTOCK\tCOST\tMARKETPLACE\tPRICE")
	for _, p := range products {
		cost := "-"
		if c, ok := p.ValidCost(); ok {
			cost = fmt.Sprintf("%.2f", c)
		}
		if len(p.Listings) == 0 {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t-\t-\n", p.SKU, p.Name, p.Brand, p.Stock, cost)
			continue
		}
		for _, l := range p.Listings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%.2f\n", p.SKU, p.Name, p.Brand, p.Stock, cost, l.Marketplace, l.Price)
		}
	}
	return tw.Flush()
}

func printRules(w io.Writer, format string, list []*domain.PricingRule) error {
	if format == "json" {
		return printJSON(w, list)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tPRIORITY\tSCHEDULE\tLAST RUN")
	for _, r := range list {
		last := "never"
		if r.LastExecutedAt != nil {
			last = r.LastExecutedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Name, r.RuleType, r.Status, r.Priority, r.Schedule.Frequency, last)
	}
	return tw.Flush()
}

func printSimulation(w io.Writer, format string, s *domain.SimulationSummary) error {
	if format == "json" {
		return printJSON(w, s)
	}

	fmt.Fprintf(w, "Rule %s: %d analyzed, %d will change, %d unchanged, %d blocked, %d errors\n\n",
		s.RuleID, s.TotalAnalyzed, s.WillChange, s.NoChange, s.Blocked, len(s.Errors))

	tw := newTable(w)
	fmt.Fprintln(tw, "SKU\tMARKETPLACE\tCURRENT\tSUGGESTED\tCHANGE\tSTATUS\tREASON")
	for _, r := range s.Results {
		reason := r.Reason
		if r.BlockReason != "" {
			reason = r.BlockReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%+.2f%%\t%s\t%s\n",
			r.SKU, r.Marketplace, r.CurrentPrice, r.SuggestedPrice, r.ChangePercent, r.Status, reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return printErrors(w, s.Errors)
}

func printLog(w io.Writer, format string, log *domain.ExecutionLog) error {
	if format == "json" {
		return printJSON(w, log)
	}

	fmt.Fprintf(w, "Run %s of %s: %s in %dms (%d analyzed, %d changed, %d unchanged, %d errors)\n",
		log.ID, log.RuleName, log.Status, log.DurationMs,
		log.Summary.TotalSkusAnalyzed, log.Summary.PricesChanged, log.Summary.PricesUnchanged, log.Summary.Errors)
	if log.Summary.Overridden > 0 {
		fmt.Fprintf(w, "%d changes overridden by higher-priority rules\n", log.Summary.Overridden)
	}

	if len(log.Changes) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "SKU\tMARKETPLACE\tPREVIOUS\tNEW\tCHANGE\tREASON")
		for _, c := range log.Changes {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%+.2f%%\t%s\n",
				c.SKU, c.Marketplace, c.PreviousPrice, c.NewPrice, c.ChangePercent, c.Reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return printErrors(w, log.Errors)
}

func printLogs(w io.Writer, format string, logs []*domain.ExecutionLog) error {
	if format == "json" {
		return printJSON(w, logs)
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRULE\tEXECUTED\tSTATUS\tANALYZED\tCHANGED\tERRORS\tDURATION")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%dms\n",
			l.ID, l.RuleName, l.ExecutedAt.Local().Format(time.DateTime), l.Status,
			l.Summary.TotalSkusAnalyzed, l.Summary.PricesChanged, l.Summary.Errors, l.DurationMs)
	}
	return tw.Flush()
}

func printBatch(w io.Writer, format string, b *rules.BatchResult) error {
	if format == "json" {
		return printJSON(w, b)
	}

	fmt.Fprintf(w, "Batch %s: %d rules in %dms, %d listings priced, %d overridden\n\n",
		b.RunID, len(b.Logs), b.DurationMs, len(b.Prices), b.Overridden)

	tw := newTable(w)
	fmt.Fprintln(tw, "SKU\tMARKETPLACE\tPRICE\tSTATUS\tRULE\tCONTENDERS")
	for _, p := range b.Prices {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%d\n",
			p.SKU, p.Marketplace, p.Price, p.Status, p.RuleID, p.Contenders)
	}
	return tw.Flush()
}

func printErrors(w io.Writer, errs []domain.ExecutionError) error {
	if len(errs) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nErrors:")
	tw := newTable(w)
	for _, e := range errs {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.SKU, e.Marketplace, e.Error)
	}
	return tw.Flush()
}
