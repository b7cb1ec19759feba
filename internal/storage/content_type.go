package storage

import (
	"net/http"
	"strings"
)

// AllowedAvatarTypes are the upload formats accepted for profile pictures.
// Every entry must be decodable by the image pipeline.
var AllowedAvatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// SniffContentType detects the MIME type from the first bytes of data,
// ignoring whatever the client declared.
func SniffContentType(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return normalizeType(http.DetectContentType(data))
}

// IsAllowedAvatarType checks a content type against AllowedAvatarTypes.
func IsAllowedAvatarType(contentType string) bool {
	return AllowedAvatarTypes[normalizeType(contentType)]
}

func normalizeType(contentType string) string {
	base := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(base))
}
