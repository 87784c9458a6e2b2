package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"audio-authenticity-service/internal/service/classifier"
)

func newInitModelCommand(ctx *commandContext) *cobra.Command {
	var (
		outPath string
		seed    uint64
		name    string
		version string
	)

	cmd := &cobra.Command{
		Use:   "init-model",
		Short: "Write an untrained classifier artifact with seeded weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p, err := ctx.pipeline()
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = cfg.Model.Path
			}

			m, err := classifier.Init(p.ExpectedShape(), seed, classifier.Metadata{Name: name, Version: version})
			if err != nil {
				return err
			}
			if err := classifier.Save(outPath, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s %s (input %s, seed %d) to %s\n",
				m.Name(), m.Version(), m.InputShape(), seed, outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Artifact path (defaults to the configured model path)")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Weight initialisation seed")
	cmd.Flags().StringVar(&name, "name", "auralguard", "Model name")
	cmd.Flags().StringVar(&version, "version", "untrained", "Model version")
	return cmd
}
