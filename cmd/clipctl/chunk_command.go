package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"audio-authenticity-service/internal/service/audio"
	"audio-authenticity-service/internal/service/segment"
)

func newChunkCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "chunk <file-or-dir>...",
		Short: "Cut recordings into fixed-duration 16 kHz WAV chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.pipeline()
			if err != nil {
				return err
			}
			files, err := collectAudioFiles(args)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			var written, failed int
			for _, file := range files {
				wave, err := p.Loader().LoadFile(cmd.Context(), file)
				if err != nil {
					log.Warn().Err(err).Str("file", file).Msg("Skipping recording")
					failed++
					continue
				}
				chunks := segment.Split(wave.Samples, p.TargetSamples())
				for i, chunk := range chunks {
					dst := filepath.Join(outDir, segment.ChunkName(i, file))
					if err := audio.WriteWAV(dst, chunk, audio.SampleRate); err != nil {
						return fmt.Errorf("write chunk %s: %w", dst, err)
					}
				}
				written += len(chunks)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", filepath.Base(file), len(chunks))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d chunks from %d recordings to %s\n", written, len(files)-failed, outDir)
			if failed > 0 {
				return fmt.Errorf("%d of %d recordings could not be decoded", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "chunks", "Output directory")
	return cmd
}
