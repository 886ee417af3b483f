// Command mkimage builds a bootable disk image from a bootcfg manifest: a
// fresh on-disk filesystem with every manifest app copied in as a
// root-directory file.
package main

import (
	"flag"
	"fmt"
	"os"

	"riscvkern/internal/blockdev"
	"riscvkern/internal/bootcfg"
	"riscvkern/internal/fs"
	"riscvkern/internal/vfs"
)

func main() {
	manifestPath := flag.String("manifest", "", "path to the bootcfg YAML manifest")
	outPath := flag.String("out", "", "path to the disk image to create")
	flag.Parse()

	if *manifestPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: mkimage -manifest manifest.yml -out disk.img")
		os.Exit(1)
	}

	if err := run(*manifestPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "mkimage: %v\n", err)
		os.Exit(1)
	}
}

func run(manifestPath, outPath string) error {
	manifest, err := bootcfg.Load(manifestPath)
	if err != nil {
		return err
	}

	disk, err := blockdev.CreateFileDisk(outPath, manifest.Geometry.TotalBlocks)
	if err != nil {
		return err
	}
	defer disk.Close()

	disk2, err := fs.Create(disk, manifest.Geometry.TotalBlocks, manifest.Geometry.InodeBitmapBlocks)
	if err != nil {
		return err
	}
	volume := vfs.New(disk2)
	root := volume.Root()

	for _, app := range manifest.Apps {
		if err := copyApp(root, app); err != nil {
			return fmt.Errorf("mkimage: app %s: %w", app.Name, err)
		}
	}
	return disk2.Cache.Sync()
}

// copyApp reads app.Path off the host and writes its bytes into a new
// file named app.Name in the image's root directory.
func copyApp(root *vfs.Inode, app bootcfg.App) error {
	data, err := os.ReadFile(app.Path)
	if err != nil {
		return err
	}
	in, err := root.Create(app.Name)
	if err != nil {
		return err
	}
	_, err = in.WriteAt(0, data)
	return err
}
