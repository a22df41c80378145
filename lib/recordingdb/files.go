package recordingdb

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ghodss/yaml"

	"github.com/onkernel/rtp-recorder/lib/recording"
)

// WriteMetadataFile replaces the metadata file in dir.
func WriteMetadataFile(dir string, md *recording.Metadata) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, recording.MetadataFile), data)
}

// ReadMetadataFile loads the metadata file in dir.
func ReadMetadataFile(dir string) (*recording.Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, recording.MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md recording.Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &md, nil
}

// WriteLayoutFiles removes every layout file in dir and writes one
// <name>.layout file per layout.
func WriteLayoutFiles(dir string, layouts []recording.ReplayLayout) error {
	old, err := filepath.Glob(filepath.Join(dir, "*"+recording.LayoutSuffix))
	if err != nil {
		return fmt.Errorf("failed to list layouts: %w", err)
	}
	for _, f := range old {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove layout %s: %w", filepath.Base(f), err)
		}
	}
	for _, l := range layouts {
		data, err := yaml.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to encode layout %s: %w", l.Name, err)
		}
		if err := writeFileAtomic(filepath.Join(dir, l.Name+recording.LayoutSuffix), data); err != nil {
			return err
		}
	}
	return nil
}

// ReadLayoutFiles loads every layout file in dir, ordered by start time.
func ReadLayoutFiles(dir string) ([]recording.ReplayLayout, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+recording.LayoutSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list layouts: %w", err)
	}
	var layouts []recording.ReplayLayout
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read layout: %w", err)
		}
		var l recording.ReplayLayout
		if err := yaml.Unmarshal(data, &l); err != nil {
			return nil, fmt.Errorf("failed to decode layout %s: %w", filepath.Base(f), err)
		}
		if l.Name == "" {
			l.Name = strings.TrimSuffix(filepath.Base(f), recording.LayoutSuffix)
		}
		layouts = append(layouts, l)
	}
	sortLayouts(layouts)
	return layouts, nil
}

func sortLayouts(layouts []recording.ReplayLayout) {
	slices.SortStableFunc(layouts, func(a, b recording.ReplayLayout) int {
		return cmp.Compare(a.Time, b.Time)
	})
}

type lifetimeFile struct {
	Lifetime string `json:"lifetime"`
}

// WriteLifetimeFile records the retention period of the recording in dir.
func WriteLifetimeFile(dir string, lifetime time.Duration) error {
	path := filepath.Join(dir, recording.LifetimeFile)
	if lifetime <= 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove lifetime: %w", err)
		}
		return nil
	}
	data, err := yaml.Marshal(lifetimeFile{Lifetime: lifetime.String()})
	if err != nil {
		return fmt.Errorf("failed to encode lifetime: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
