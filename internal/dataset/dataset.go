// Package dataset loads labeled images from an ImageFolder-style directory
// tree and turns them into training batches.
//
// Layout convention: root/<partition>/<class_name>/<image files>, one
// subdirectory per class. Class names map to integer indices by
// lexicographic sort order, so the mapping is a pure function of the
// directory listing and stays stable across runs, checkpoints and logs.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Sample is one image on disk together with the class index of the
// directory it was found in. The directory is the label's source of truth;
// whether that label is trusted is the label package's concern.
type Sample struct {
	Path  string
	Class int
}

// Dataset is the scanned contents of one partition directory.
type Dataset struct {
	// Dir is the partition directory that was scanned.
	Dir string

	// Classes holds class names in index order.
	Classes []string

	// Samples holds every accepted image, grouped by class in class-index
	// order and sorted by filename within a class.
	Samples []Sample

	// SkippedUnknownClass counts images found under directories that are
	// not in the resolved class list.
	SkippedUnknownClass int
}

// imageExtensions are the file types the decoder understands.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// ScanClasses resolves the class list for a partition directory.
//
// Subdirectories are sorted lexicographically; those containing fewer than
// minImages image files are excluded (uncurated web downloads produce
// near-empty classes). Returns an error if the directory cannot be read.
func ScanClasses(dir string, minImages int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition directory %s: %w", dir, err)
	}

	var classes []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := countImages(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if n >= minImages {
			classes = append(classes, entry.Name())
		}
	}
	sort.Strings(classes)

	if len(classes) == 0 {
		return nil, fmt.Errorf("no class directories with at least %d images under %s", minImages, dir)
	}
	return classes, nil
}

// Scan enumerates all samples under dir for the given class list.
//
// Samples in directories outside the class list are rejected and counted,
// never fatal. A class directory that is missing or empty is logged as a
// configuration anomaly and yields zero samples for that class.
func Scan(dir string, classes []string, logger *zap.Logger) (*Dataset, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("partition directory %s: %w", dir, err)
	}

	classIndex := make(map[string]int, len(classes))
	for i, name := range classes {
		classIndex[name] = i
	}

	ds := &Dataset{Dir: dir, Classes: classes}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition directory %s: %w", dir, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seen[entry.Name()] = true
		if _, ok := classIndex[entry.Name()]; !ok {
			n, err := countImages(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			ds.SkippedUnknownClass += n
			logger.Warn("directory not in class list, samples excluded",
				zap.String("dir", entry.Name()),
				zap.Int("samples", n))
		}
	}

	for idx, name := range classes {
		classDir := filepath.Join(dir, name)
		if !seen[name] {
			logger.Warn("class has no directory in partition",
				zap.String("class", name),
				zap.String("partition", dir))
			continue
		}

		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read class directory %s: %w", classDir, err)
		}

		count := 0
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			names = append(names, f.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			ds.Samples = append(ds.Samples, Sample{
				Path:  filepath.Join(classDir, n),
				Class: idx,
			})
			count++
		}

		if count == 0 {
			logger.Warn("class is empty in partition",
				zap.String("class", name),
				zap.String("partition", dir))
		}
	}

	return ds, nil
}

// SubsetPerClass truncates the dataset to at most n samples per class,
// keeping the deterministic scan order. n <= 0 keeps everything. This is
// the reference script's train-size subsetting.
func (d *Dataset) SubsetPerClass(n int) {
	if n <= 0 {
		return
	}
	kept := d.Samples[:0]
	perClass := make(map[int]int)
	for _, s := range d.Samples {
		if perClass[s.Class] >= n {
			continue
		}
		perClass[s.Class]++
		kept = append(kept, s)
	}
	d.Samples = kept
}

// Labels returns the directory-derived class index of every sample, in
// sample order.
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.Samples))
	for i, s := range d.Samples {
		labels[i] = s.Class
	}
	return labels
}

// SelectClasses filters a class list down to a named subset, preserving
// sort order. Returns an error if a requested class is absent.
func SelectClasses(classes, selected []string) ([]string, error) {
	if len(selected) == 0 {
		return classes, nil
	}
	have := make(map[string]bool, len(classes))
	for _, c := range classes {
		have[c] = true
	}
	out := make([]string, 0, len(selected))
	for _, c := range selected {
		if !have[c] {
			return nil, fmt.Errorf("selected class %q not found in partition", c)
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

func countImages(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read class directory %s: %w", dir, err)
	}
	n := 0
	for _, f := range files {
		if !f.IsDir() && isImageFile(f.Name()) {
			n++
		}
	}
	return n, nil
}
