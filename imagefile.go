package framereader

import (
	"path/filepath"
	"strings"
)

var imageFileExtensions = map[string]struct{}{
	"bmp":  {},
	"pix":  {},
	"dpx":  {},
	"exr":  {},
	"jpeg": {},
	"jpg":  {},
	"png":  {},
	"ppm":  {},
	"ptx":  {},
	"tiff": {},
	"tga":  {},
	"rgba": {},
	"rgb":  {},
}

// IsImageFile reports whether the path looks like a still image rather
// than a movie, judging by its extension alone.
func IsImageFile(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	_, ok := imageFileExtensions[strings.ToLower(ext[1:])]
	return ok
}
