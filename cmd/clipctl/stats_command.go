package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"audio-authenticity-service/internal/service/store"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var (
		dbPath string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the prediction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), dbPath, func(s *store.Store) error {
				st, err := s.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Label", "Count", "Share"},
					[][]string{
						{"real", strconv.Itoa(st.Real), fmt.Sprintf("%.2f%%", st.RealPercentage)},
						{"fake", strconv.Itoa(st.Fake), fmt.Sprintf("%.2f%%", st.FakePercentage)},
						{"total", strconv.Itoa(st.Total), ""},
					},
					[]columnAlignment{alignLeft, alignRight, alignRight},
				))

				if recent <= 0 {
					return nil
				}
				records, err := s.Recent(cmd.Context(), recent)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.Timestamp.Local().Format(time.DateTime),
						r.Filename,
						r.Label,
						formatFloat(r.Probability),
						r.ModelVersion,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Time", "File", "Prediction", "Probability", "Model"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Prediction database (defaults to the configured path)")
	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "Also list this many recent predictions")
	return cmd
}
