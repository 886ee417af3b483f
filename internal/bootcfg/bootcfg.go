// Package bootcfg loads the build-time manifest describing an image's app
// table and disk geometry. It is not part of the on-disk format (that
// lives in internal/fs); it is the input cmd/mkimage and test fixtures
// read to decide what to put there.
package bootcfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App names an ELF image to embed in the image and the app table.
type App struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Geometry describes the target image's on-disk layout: total block count
// and how many of the leading blocks are reserved for the inode bitmap.
// fs.Create derives the remaining region sizes (inode table, data bitmap,
// data blocks) from these two.
type Geometry struct {
	TotalBlocks       int `yaml:"total_blocks"`
	InodeBitmapBlocks int `yaml:"inode_bitmap_blocks"`
}

// Manifest is the YAML document bootcfg loads: the app table plus the
// target image's geometry.
type Manifest struct {
	Apps     []App    `yaml:"apps"`
	Geometry Geometry `yaml:"geometry"`
}

// Load reads and parses a manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a manifest from raw YAML bytes, validating that it names at
// least one app and a non-empty disk geometry.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bootcfg: parse manifest: %w", err)
	}
	if len(m.Apps) == 0 {
		return nil, fmt.Errorf("bootcfg: manifest names no apps")
	}
	for _, app := range m.Apps {
		if app.Name == "" || app.Path == "" {
			return nil, fmt.Errorf("bootcfg: app entry missing name or path")
		}
	}
	if m.Geometry.TotalBlocks <= 0 {
		return nil, fmt.Errorf("bootcfg: geometry.total_blocks must be positive")
	}
	if m.Geometry.InodeBitmapBlocks <= 0 {
		return nil, fmt.Errorf("bootcfg: geometry.inode_bitmap_blocks must be positive")
	}
	return &m, nil
}
