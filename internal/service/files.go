package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileService lists the files in the data directory.
type FileService struct {
	dataDir string
}

// NewFileService creates a new file service.
func NewFileService(dataDir string) *FileService {
	return &FileService{dataDir: dataDir}
}

// Supported data file extensions and their types
var extToType = map[string]string{
	".geojson": "GeoJSON",
	".json":    "GeoJSON",
	".csv":     "CSV",
	".tif":     "GeoTIFF",
	".tiff":    "GeoTIFF",
}

// List returns the data files the viewer can read, sorted by name.
func (s *FileService) List() ([]DataFile, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DataFile{}, nil
		}
		return nil, err
	}

	files := []DataFile{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		fileType, ok := extToType[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, DataFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			FileType: fileType,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

// DataDir returns the path to the data directory.
func (s *FileService) DataDir() string {
	return s.dataDir
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
