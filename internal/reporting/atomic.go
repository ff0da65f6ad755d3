package reporting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is one artifact of a set written together.
type File struct {
	Name string
	Data []byte
}

// WriteAtomic writes every file into dir so that either all of them are replaced or none
// is. Each file is staged in a temporary sibling and renamed into place; if any step fails,
// staged files are removed and already renamed files are restored to their prior content.
func WriteAtomic(dir string, files ...File) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	staged := make([]string, 0, len(files))
	defer func() {
		if err != nil {
			for _, tmp := range staged {
				_ = os.Remove(tmp)
			}
		}
	}()

	for _, f := range files {
		tmp, err := stage(dir, f)
		if err != nil {
			return err
		}
		staged = append(staged, tmp)
	}

	type backup struct {
		target  string
		prior   []byte
		existed bool
	}
	done := make([]backup, 0, len(files))
	restore := func() {
		for _, b := range done {
			if b.existed {
				_ = os.WriteFile(b.target, b.prior, 0o644)
			} else {
				_ = os.Remove(b.target)
			}
		}
	}
	for i, f := range files {
		target := filepath.Join(dir, f.Name)
		prior, readErr := os.ReadFile(target)
		existed := readErr == nil
		if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
			restore()
			return fmt.Errorf("failed to read existing %s: %w", target, readErr)
		}
		if err := os.Rename(staged[i], target); err != nil {
			restore()
			return fmt.Errorf("failed to move %s into place: %w", f.Name, err)
		}
		done = append(done, backup{target: target, prior: prior, existed: existed})
	}
	staged = staged[:0]
	return nil
}

func stage(dir string, f File) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+f.Name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", f.Name, err)
	}
	if _, err := tmp.Write(f.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close %s: %w", f.Name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to set mode of %s: %w", f.Name, err)
	}
	return tmp.Name(), nil
}
