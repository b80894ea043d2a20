package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/repricer/internal/domain"
	"github.com/opensource-finance/repricer/internal/feed"
)

// withApp opens the local stack for the duration of one command.
func withApp(cmd *cobra.Command, opts *options, fn func(a *app) error) error {
	switch opts.format {
	case "table", "json":
	default:
		return fmt.Errorf("unsupported format %q (want table or json)", opts.format)
	}

	a, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func importCmd(opts *options) *cobra.Command {
	var template bool

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import competitor prices from a CSV file",
		Long: `Import competitor prices from a CSV export with the columns
sku, competitor_name, competitor_price, marketplace and an optional captured_at.
Rows with errors are reported and skipped; valid rows are stored.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if template {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if template {
				_, err := fmt.Fprint(cmd.OutOrStdout(), feed.Template)
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(cmd, opts, func(a *app) error {
				res, err := feed.NewImporter(a.repo, nil).Import(cmd.Context(), a.sellerID, f)
				if err != nil {
					return err
				}
				if err := printImport(cmd.OutOrStdout(), opts.format, res); err != nil {
					return err
				}
				if res.ValidRows == 0 && len(res.Errors) > 0 {
					return fmt.Errorf("no valid rows in %s", args[0])
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&template, "template", false, "Print an example CSV instead of importing")
	return cmd
}

func productsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Inspect and load the product catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				products, err := a.repo.ListProducts(cmd.Context(), a.sellerID)
				if err != nil {
					return err
				}
				return printProducts(cmd.OutOrStdout(), opts.format, products)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load <file.json>",
		Short: "Upsert products from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var products []*domain.Product
			if err := json.Unmarshal(data, &products); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			return withApp(cmd, opts, func(a *app) error {
				for _, p := range products {
					if err := a.repo.SaveProduct(cmd.Context(), a.sellerID, p); err != nil {
						return fmt.Errorf("save product %s: %w", p.SKU, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d products for seller %s\n", len(products), a.sellerID)
				return nil
			})
		},
	})

	return cmd
}

func rulesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List and manage pricing rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				rules, err := a.repo.ListRules(cmd.Context(), a.sellerID)
				if err != nil {
					return err
				}
				return printRules(cmd.OutOrStdout(), opts.format, rules)
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <file.json>",
		Short: "Validate and store a rule definition",
		Long: `Validate and store a rule. Fields missing from the file take the editor
defaults for the rule type; new rules are drafts unless the file sets "active".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rule, err := decodeRule(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			return withApp(cmd, opts, func(a *app) error {
				if err := a.engine.ValidateRule(rule); err != nil {
					return err
				}
				if err := a.repo.SaveRule(cmd.Context(), a.sellerID, rule); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created rule %s (%s, %s)\n", rule.ID, rule.RuleType, rule.Status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <rule-id> <draft|active|paused>",
		Short: "Change the status of a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.RuleStatus(args[1])
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", args[1])
			}

			return withApp(cmd, opts, func(a *app) error {
				rule, err := a.repo.GetRule(cmd.Context(), a.sellerID, args[0])
				if err != nil {
					return err
				}
				rule.Status = status
				rule.UpdatedAt = time.Now().UTC()
				if err := a.repo.SaveRule(cmd.Context(), a.sellerID, rule); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rule %s is now %s\n", rule.ID, rule.Status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				return a.repo.DeleteRule(cmd.Context(), a.sellerID, args[0])
			})
		},
	})

	return cmd
}

// decodeRule overlays a JSON definition on the defaults for its rule type.
func decodeRule(data []byte) (*domain.PricingRule, error) {
	var probe struct {
		Name     string          `json:"name"`
		RuleType domain.RuleType `json:"ruleType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if !probe.RuleType.Valid() {
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidRule, probe.RuleType)
	}

	rule := domain.NewRule(probe.Name, probe.RuleType)
	if err := json.Unmarshal(data, rule); err != nil {
		return nil, err
	}
	rule.ID = ""
	rule.LastExecutedAt = nil
	if rule.Status == domain.RulePaused {
		return nil, fmt.Errorf("new rules must be draft or active")
	}
	return rule, nil
}

func simulateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <rule-id>",
		Short: "Preview the prices a rule would set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				rule, err := a.repo.GetRule(cmd.Context(), a.sellerID, args[0])
				if err != nil {
					return err
				}
				summary, err := a.engine.Simulate(cmd.Context(), a.sellerID, rule)
				if err != nil {
					return err
				}
				return printSimulation(cmd.OutOrStdout(), opts.format, summary)
			})
		},
	}
}

func executeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <rule-id>",
		Short: "Run an active rule and record the price changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				rule, err := a.repo.GetRule(cmd.Context(), a.sellerID, args[0])
				if err != nil {
					return err
				}
				log, err := a.engine.Execute(cmd.Context(), a.sellerID, rule)
				if err != nil {
					return err
				}
				return printLog(cmd.OutOrStdout(), opts.format, log)
			})
		},
	}
}

func runAllCmd(opts *options) *cobra.Command {
	var due bool

	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Run every active rule and resolve overlapping SKUs by priority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				run := a.engine.RunAll
				if due {
					run = a.engine.RunDue
				}
				result, err := run(cmd.Context(), a.sellerID)
				if err != nil {
					return err
				}
				return printBatch(cmd.OutOrStdout(), opts.format, result)
			})
		},
	}

	cmd.Flags().BoolVar(&due, "due", false, "Only run rules whose schedule is due")
	return cmd
}

func logsCmd(opts *options) *cobra.Command {
	var (
		ruleID string
		limit  int
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show execution history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must not be negative")
			}
			q := domain.LogQuery{RuleID: ruleID, Limit: limit}
			if since > 0 {
				q.Since = time.Now().UTC().Add(-since)
			}

			return withApp(cmd, opts, func(a *app) error {
				logs, err := a.repo.ListLogs(cmd.Context(), a.sellerID, q)
				if err != nil {
					return err
				}
				return printLogs(cmd.OutOrStdout(), opts.format, logs)
			})
		},
	}

	cmd.Flags().StringVar(&ruleID, "rule", "", "Only logs of this rule")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of logs (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only logs newer than this, e.g. 24h")
	return cmd
}
