package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSchemaCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the inputs the loaded model expects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d model features\n", artifacts.Schema.Len())
			fmt.Fprintf(w, "numeric: %s\n", strings.Join(artifacts.Schema.NumericFeatures(), ", "))
			for _, g := range artifacts.Schema.Groups() {
				if len(g.Columns) == 0 {
					continue
				}
				fmt.Fprintf(w, "%s: %s\n", g.Name, strings.Join(g.Options(), ", "))
			}
			return nil
		},
	}
}
