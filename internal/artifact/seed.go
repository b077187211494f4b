package artifact

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed seed
var seedFS embed.FS

// Seed writes the starter artifacts into dir, leaving existing files alone.
// It returns the paths it created.
func Seed(dir string) ([]string, error) {
	var created []string
	err := fs.WalkDir(seedFS, "seed", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel("seed", filepath.FromSlash(p))
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if _, err := os.Stat(target); err == nil {
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		data, err := seedFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
		created = append(created, target)
		return nil
	})
	if err != nil {
		return created, fmt.Errorf("seed artifacts: %w", err)
	}
	return created, nil
}
