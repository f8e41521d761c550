package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"churnsight/ml"
	"churnsight/risk"
	"churnsight/scoring"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type predictOptions struct {
	features   map[string]string
	selections map[string]string
	explain    int
	asJSON     bool
}

func newPredictCmd(root *rootOptions) *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score one customer from the command line",
		Example: `  churnsight predict --feature Sales=1200 --feature risk_score=0.7 \
      --select Region=EMEA --select Segment=SMB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, root, opts)
		},
	}
	cmd.Flags().StringToStringVarP(&opts.features, "feature", "f", nil, "numeric input as name=value, repeatable")
	cmd.Flags().StringToStringVarP(&opts.selections, "select", "s", nil, "category as Group=Option, repeatable")
	cmd.Flags().IntVar(&opts.explain, "explain", 0, "also print the n strongest feature effects")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (o *predictOptions) input() (ml.CustomerInput, error) {
	input := ml.CustomerInput{
		Numeric:    make(map[string]float64, len(o.features)),
		Selections: make(map[string]string, len(o.selections)),
	}
	for name, raw := range o.features {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return input, fmt.Errorf("feature %s: %q is not a number", name, raw)
		}
		input.Numeric[name] = v
	}
	for group, option := range o.selections {
		input.Selections[group] = option
	}
	return input, nil
}

type predictOutput struct {
	Probability   float64           `json:"probability"`
	Percent       float64           `json:"percent"`
	Level         risk.Level        `json:"level"`
	RevenueAtRisk float64           `json:"revenue_at_risk"`
	Effects       []ml.Contribution `json:"effects,omitempty"`
}

func runPredict(cmd *cobra.Command, root *rootOptions, opts *predictOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	registry := newRegistry(cfg, zap.NewNop())
	if err := registry.Load(); err != nil {
		return err
	}
	artifacts, err := registry.Current()
	if err != nil {
		return err
	}
	input, err := opts.input()
	if err != nil {
		return err
	}
	res, err := scoring.Score(artifacts, input)
	if err != nil {
		return err
	}
	out := predictOutput{
		Probability:   res.Probability,
		Percent:       res.Percent,
		Level:         res.Level,
		RevenueAtRisk: res.RevenueAtRisk,
	}
	if opts.explain > 0 {
		x, err := scoring.Explain(artifacts, res.Row)
		if err != nil {
			return err
		}
		out.Effects = x.Top(opts.explain)
	}

	w := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintf(w, "Churn probability: %s\n", risk.FormatPercent(out.Percent))
	fmt.Fprintf(w, "Risk level:        %s\n", out.Level.Label())
	fmt.Fprintf(w, "Revenue at risk:   %s\n", risk.FormatCurrency(out.RevenueAtRisk))
	for _, c := range out.Effects {
		fmt.Fprintf(w, "  %-20s %+.4f\n", c.Feature, c.Effect)
	}
	return nil
}
