package media

import (
	"path/filepath"
	"strings"
)

// extensions accepted for uploads, with the content type artifacts are served as
var rasterContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// IsRasterImage checks if the filename has a common raster image extension
func IsRasterImage(filename string) bool {
	_, ok := rasterContentTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// ContentType returns the image content type for filename, or
// application/octet-stream when the extension is not a known raster format.
func ContentType(filename string) string {
	if ct, ok := rasterContentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
