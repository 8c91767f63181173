package splitlog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepSpillFiles deletes spill files in dir not touched since now-maxAge and
// returns how many went. A synchronizer removes its own spill file when it
// closes, so this only catches files left behind by a crash.
func SweepSpillFiles(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if ok, _ := filepath.Match(SpillFilePattern, e.Name()); !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
