package static

import (
	"path"
	"strings"
)

// DefaultContentType is sent for files with an unknown extension.
const DefaultContentType = "application/octet-stream"

var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"xml":  "application/xml",
	"json": "application/json",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"md":   "text/markdown",
	"sh":   "text/x-shellscript",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"webp": "image/webp",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/msword",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.ms-excel",
	"zip":  "application/zip",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
}

// ContentType returns the MIME type for a file name by its extension.
func ContentType(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if typ, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return typ
	}
	return DefaultContentType
}
