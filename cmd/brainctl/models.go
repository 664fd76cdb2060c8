package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/methings/brainctl/internal/models"
)

func buildModelsCmd() *cobra.Command {
	var provider string
	var bedrockRegion string
	var bedrockEnabled bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog available to the brain runtime",
		Long: `Prints the built-in model catalog, optionally filtered by provider,
and optionally merged with a live AWS Bedrock foundation-model listing
when --bedrock is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *models.Filter
			if provider != "" {
				filter = &models.Filter{Providers: []models.Provider{models.Provider(provider)}}
			}
			catalog := models.List(filter)

			if bedrockEnabled {
				disc := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
					Enabled: true,
					Region:  bedrockRegion,
				}, nil)
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				found, err := disc.Discover(ctx)
				if err != nil {
					return err
				}
				catalog = append(catalog, found...)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Filter by provider (openai, bedrock, anthropic, ...)")
	cmd.Flags().BoolVar(&bedrockEnabled, "bedrock", false, "Also query AWS Bedrock for live foundation models")
	cmd.Flags().StringVar(&bedrockRegion, "bedrock-region", "us-east-1", "AWS region to query when --bedrock is set")
	return cmd
}
