package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"audio-authenticity-service/internal/service/decision"
	"audio-authenticity-service/internal/service/evaluate"
	"audio-authenticity-service/internal/service/pipeline"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var (
		modelPath string
		realDir   string
		fakeDir   string
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score the model against labelled real and fake clips",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline()
			if err != nil {
				return err
			}
			model, err := ctx.model(modelPath, p)
			if err != nil {
				return err
			}

			var cm evaluate.Confusion
			for _, set := range []struct {
				label string
				dir   string
			}{{decision.LabelReal, realDir}, {decision.LabelFake, fakeDir}} {
				files, err := collectAudioFiles([]string{set.dir})
				if err != nil {
					return err
				}
				for _, file := range files {
					t, err := p.ExtractFeatures(cmd.Context(), pipeline.FromPath(file))
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					prob, _, err := pipeline.Infer(model, t)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					if err := cm.Add(set.label, prob); err != nil {
						return err
					}
				}
			}
			if cm.Total() == 0 {
				return fmt.Errorf("no audio files found in %s or %s", realDir, fakeDir)
			}

			report := cm.Report()
			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(report)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Metric", "Value"},
				[][]string{
					{"Clips", strconv.Itoa(report.Total)},
					{"Accuracy", formatFloat(report.Accuracy)},
					{"Precision", formatFloat(report.Precision)},
					{"Recall", formatFloat(report.Recall)},
					{"Loss", formatFloat(report.Loss)},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintln(out, renderTable(
				[]string{"", "Predicted real", "Predicted fake"},
				[][]string{
					{"Actual real", strconv.Itoa(cm.TruePositive), strconv.Itoa(cm.FalseNegative)},
					{"Actual fake", strconv.Itoa(cm.FalsePositive), strconv.Itoa(cm.TrueNegative)},
				},
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Model artifact (defaults to the configured path)")
	cmd.Flags().StringVar(&realDir, "real", "real_audio_chunks", "Directory of genuine clips")
	cmd.Flags().StringVar(&fakeDir, "fake", "fake_audio_chunks", "Directory of synthetic clips")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the report as JSON")
	return cmd
}
