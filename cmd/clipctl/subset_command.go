package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSubsetCommand() *cobra.Command {
	var (
		outDir string
		count  int
		seed   uint64
	)

	cmd := &cobra.Command{
		Use:   "subset <source-dir>",
		Short: "Copy a random sample of recordings for quick experiments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			files, err := collectAudioFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no audio files in %s", args[0])
			}

			rng := rand.New(rand.NewPCG(seed, seed))
			rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
			files = files[:min(count, len(files))]

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			for _, file := range files {
				if err := copyFile(file, filepath.Join(outDir, filepath.Base(file))); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %d files to %s\n", len(files), outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "subset", "Output directory")
	cmd.Flags().IntVarP(&count, "count", "n", 50, "Number of files to sample")
	cmd.Flags().Uint64Var(&seed, "seed", 42, "Sampling seed")
	return cmd
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
