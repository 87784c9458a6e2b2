package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"audio-authenticity-service/internal/service/pipeline"
	"audio-authenticity-service/internal/service/segment"
	"audio-authenticity-service/internal/service/store"
)

type predictRow struct {
	File           string  `json:"file"`
	Prediction     string  `json:"prediction"`
	Probability    float64 `json:"probability"`
	Confidence     float64 `json:"confidence"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	RequestID      string  `json:"request_id,omitempty"`
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var (
		modelPath string
		jsonOut   bool
		record    bool
		storePath string
	)

	cmd := &cobra.Command{
		Use:   "predict <file-or-dir>...",
		Short: "Classify recordings as real or fake",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline()
			if err != nil {
				return err
			}
			model, err := ctx.model(modelPath, p)
			if err != nil {
				return err
			}
			files, err := collectAudioFiles(args)
			if err != nil {
				return err
			}

			var results []predictRow
			var stored []store.Record
			ids := segment.New()
			batch := "batch-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
			for _, file := range files {
				res, err := p.Run(cmd.Context(), model, pipeline.FromPath(file))
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				row := predictRow{
					File:           filepath.Base(file),
					Prediction:     res.Label,
					Probability:    res.Probability,
					Confidence:     res.Confidence,
					ElapsedSeconds: res.Elapsed.Seconds(),
				}
				if record {
					row.RequestID = ids.Next(batch)
					stored = append(stored, store.Record{
						RequestID:             row.RequestID,
						Filename:              row.File,
						Probability:           res.Probability,
						Label:                 res.Label,
						Confidence:            res.Confidence,
						ProcessingTimeSeconds: row.ElapsedSeconds,
						ModelVersion:          model.Version(),
					})
				}
				results = append(results, row)
			}

			if record {
				err := ctx.withStore(cmd.Context(), storePath, func(s *store.Store) error {
					for _, r := range stored {
						if _, err := s.Record(cmd.Context(), r); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return fmt.Errorf("record predictions: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				for _, r := range results {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{
					r.File, r.Prediction, formatFloat(r.Probability), formatFloat(r.Confidence),
					fmt.Sprintf("%.2fs", r.ElapsedSeconds),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Prediction", "Probability", "Confidence", "Elapsed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Model artifact (defaults to the configured path)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit one JSON object per file")
	cmd.Flags().BoolVar(&record, "record", false, "Store results in the prediction history")
	cmd.Flags().StringVar(&storePath, "db", "", "Prediction database (defaults to the configured path)")
	return cmd
}
