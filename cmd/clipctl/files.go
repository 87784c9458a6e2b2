package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"audio-authenticity-service/internal/service/audio"
)

// collectAudioFiles expands args into audio files. Directories contribute
// their supported files (not recursively); explicit files must be supported.
func collectAudioFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !audio.IsSupported(arg) {
				return nil, fmt.Errorf("unsupported audio file %s", arg)
			}
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", arg, err)
		}
		var found []string
		for _, e := range entries {
			if e.Type().IsRegular() && audio.IsSupported(e.Name()) {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
