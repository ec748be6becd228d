// Package category sorts downloaded files into per-type destination folders.
package category

import (
	"path/filepath"
	"strings"
)

// Bucket is a file category.
type Bucket int

// Buckets, in lookup priority order.
const (
	Audio Bucket = iota
	Video
	Document
	Compressed
	Other
)

// Folder returns the subfolder name used for the bucket.
func (b Bucket) Folder() string {
	switch b {
	case Audio:
		return "Audios"
	case Video:
		return "Videos"
	case Document:
		return "Documents"
	case Compressed:
		return "Compressed"
	default:
		return "Other"
	}
}

// String implements fmt.Stringer.
func (b Bucket) String() string {
	switch b {
	case Audio:
		return "audio"
	case Video:
		return "video"
	case Document:
		return "document"
	case Compressed:
		return "compressed"
	default:
		return "other"
	}
}

// Categorize returns the folder a completed file belongs in. When
// subfolder sorting is off, basePath is returned as is.
func Categorize(fileName, basePath string, subfolder bool) string {
	if !subfolder {
		return basePath
	}
	return filepath.Join(basePath, Classify(fileName).Folder())
}

// Classify returns the bucket of fileName based on its extension.
func Classify(fileName string) Bucket {
	ext := Extension(fileName)
	for _, b := range lookupOrder {
		if tables[b][ext] {
			return b
		}
	}
	return Other
}

// Extension returns the lower-cased extension of fileName without the dot.
// Anything from the first '?' on is dropped, since names taken from URLs
// may still carry a query string. Names without a dot, and dotfiles such
// as ".bashrc", have no extension.
func Extension(fileName string) string {
	base := fileName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 {
		return ""
	}

	ext := strings.ToLower(base[dot+1:])
	if q := strings.IndexByte(ext, '?'); q >= 0 {
		ext = ext[:q]
	}
	return ext
}
