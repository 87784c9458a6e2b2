package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"audio-authenticity-service/internal/service/features"
	"audio-authenticity-service/internal/service/pipeline"
)

// tensorFile is the on-disk form of an extracted spectrogram.
type tensorFile struct {
	Source string           `msgpack:"source"`
	Tensor *features.Tensor `msgpack:"tensor"`
}

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "extract <file-or-dir>...",
		Short: "Write mel spectrogram tensors as msgpack files",
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

			for _, file := range files {
				t, err := p.ExtractFeatures(cmd.Context(), pipeline.FromPath(file))
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				data, err := msgpack.Marshal(&tensorFile{Source: filepath.Base(file), Tensor: t})
				if err != nil {
					return fmt.Errorf("encode %s: %w", file, err)
				}
				base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				dst := filepath.Join(outDir, base+".msgpack")
				if err := os.WriteFile(dst, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", dst, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", filepath.Base(file), dst, t.Shape)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "features", "Output directory")
	return cmd
}
