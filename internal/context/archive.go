package ctxmgr

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExportProfile writes a tar.gz archive of a context's profile directory
func (m *Manager) ExportProfile(id string, w io.Writer) error {
	bc, err := m.Ensure(id)
	if err != nil {
		return err
	}

	if err := compressDirectory(bc.ProfileDir, w); err != nil {
		return fmt.Errorf("failed to archive context %s: %w", id, err)
	}
	return nil
}

// ImportProfile restores a tar.gz archive into a context's profile directory
func (m *Manager) ImportProfile(id string, r io.Reader) error {
	bc, err := m.Ensure(id)
	if err != nil {
		return err
	}

	if err := extractDirectory(r, bc.ProfileDir); err != nil {
		return fmt.Errorf("failed to restore context %s: %w", id, err)
	}
	return nil
}

// compressDirectory streams a tar.gz archive of a directory
func compressDirectory(source string, w io.Writer) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	walkErr := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})
	if walkErr != nil {
		return walkErr
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

// extractDirectory unpacks a tar.gz stream into target
func extractDirectory(r io.Reader, target string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	root := filepath.Clean(target) + string(os.PathSeparator)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		targetPath := filepath.Join(target, filepath.FromSlash(header.Name))
		if targetPath == filepath.Clean(target) {
			// "./" root entry written by tar -C dir .
			if header.Typeflag == tar.TypeDir {
				continue
			}
			return fmt.Errorf("archive entry %q replaces the profile directory", header.Name)
		}
		if !strings.HasPrefix(targetPath, root) {
			return fmt.Errorf("archive entry %q escapes the profile directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}

			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}

			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}

	return nil
}
