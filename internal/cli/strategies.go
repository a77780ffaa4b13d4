package cli

import (
	"sort"

	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type configuredStrategy struct {
	ID         string              `yaml:"id"`
	Type       string              `yaml:"type"`
	Name       string              `yaml:"name,omitempty"`
	Enabled    bool                `yaml:"enabled"`
	Parameters strategy.Parameters `yaml:"parameters,omitempty"`
}

type strategiesOutput struct {
	Types      []strategy.CatalogEntry `yaml:"types"`
	Configured []configuredStrategy    `yaml:"configured"`
}

func newStrategiesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List strategy types with their default parameters, and the configured strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(listStrategies(root.cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func listStrategies(cfg *service.Config) strategiesOutput {
	out := strategiesOutput{Types: strategy.Catalog(), Configured: []configuredStrategy{}}
	for id, sc := range cfg.Strategies {
		out.Configured = append(out.Configured, configuredStrategy{
			ID:         id,
			Type:       sc.Type,
			Name:       sc.Name,
			Enabled:    sc.Enabled,
			Parameters: sc.Parameters,
		})
	}
	sort.Slice(out.Configured, func(i, j int) bool { return out.Configured[i].ID < out.Configured[j].ID })
	return out
}
