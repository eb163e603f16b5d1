package storage

import (
	"bytes"
	"strings"
)

// DefaultExtension is used when neither a signature nor a MIME type identifies the format.
const DefaultExtension = ".jpg"

// imageSignature maps a leading byte pattern to a file extension.
type imageSignature struct {
	prefix []byte
	ext    string
}

// signatures is checked in order. WEBP needs an extra container check and is handled separately.
var signatures = []imageSignature{
	{[]byte("\x89PNG\r\n\x1a\n"), ".png"},
	{[]byte{0xFF, 0xD8, 0xFF}, ".jpg"},
	{[]byte("GIF87a"), ".gif"},
	{[]byte("GIF89a"), ".gif"},
	{[]byte("II*\x00"), ".tif"},
	{[]byte("MM\x00*"), ".tif"},
	{[]byte("BM"), ".bmp"},
}

// SniffExtension classifies data by its magic bytes and returns the matching
// extension, or def when nothing matches.
func SniffExtension(data []byte, def string) string {
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return ".webp"
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.ext
		}
	}
	return def
}

// mimeExtensions maps declared image MIME types to extensions.
var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tif",
}

// ExtensionFromMIME maps a MIME type (parameters ignored) to an extension.
// Unknown or empty types yield DefaultExtension.
func ExtensionFromMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if ext, ok := mimeExtensions[mime]; ok {
		return ext
	}
	return DefaultExtension
}

// imageExtensions is the set of extensions recognized in URLs.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// IsImageExtension reports whether ext (with dot, any case) is a known image extension.
func IsImageExtension(ext string) bool {
	return imageExtensions[strings.ToLower(ext)]
}
