package cmd

import (
	"fmt"
	"math/rand/v2"
	"os"
	"text/tabwriter"

	"wildlife-challenge-system/models"

	"github.com/spf13/cobra"
)

var (
	previewLat  float64
	previewLon  float64
	previewKind string
	previewSeed uint64
)

var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "Challenge sampling tools",
}

// previewCmd draws tasks for a coordinate without touching any user's challenges.
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Dry-run challenge sampling for a coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := buildCore(ctx)
		if err != nil {
			return err
		}
		defer c.close()

		region, err := c.keyer.Resolve(ctx, previewLat, previewLon)
		if err != nil {
			return err
		}
		manifest, err := c.manifests.GetOrCreate(ctx, region)
		if err != nil {
			return err
		}

		kinds := models.ChallengeKinds
		if previewKind != "" {
			kinds = []models.ChallengeKind{models.ChallengeKind(previewKind)}
		}

		fmt.Printf("%s (%s), %d animals in manifest\n\n", region.DisplayLocation, region.Key, len(manifest.AnimalManifest))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, kind := range kinds {
			rng := rand.New(rand.NewPCG(previewSeed, previewSeed))
			tasks, err := c.sampler.Sample(manifest.AnimalManifest, kind, nil, rng)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\tXP %d\t\t\n", kind, c.challenges.XPPotential(kind, tasks))
			for _, t := range tasks {
				fmt.Fprintf(w, "\t%s\t%.0f%%\tx%d\n", t.AnimalName, t.Probability, t.RequiredCount)
			}
		}
		return w.Flush()
	},
}

func init() {
	previewCmd.Flags().Float64Var(&previewLat, "lat", 0, "Latitude")
	previewCmd.Flags().Float64Var(&previewLon, "lon", 0, "Longitude")
	previewCmd.Flags().StringVar(&previewKind, "kind", "", "daily or weekly (default both)")
	previewCmd.Flags().Uint64Var(&previewSeed, "seed", 1, "Sampling seed")
	_ = previewCmd.MarkFlagRequired("lat")
	_ = previewCmd.MarkFlagRequired("lon")
	challengesCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(challengesCmd)
}
