package client

import (
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

// extensionContentTypes maps common EP media file extensions to their
// upload Content-Type, since EP's upload API is picky about the
// Content-Disposition/Content-Type pairing and the stdlib's
// mime.TypeByExtension table does not cover every EP-accepted extension
// (amr voice notes in particular).
var extensionContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".amr":  "audio/amr",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func contentTypeForExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extensionContentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// parseContentDisposition is a minimal RFC 6266 parser sufficient for EP's
// media/get responses: "attachment; filename=\"a.png\"; filename*=UTF-8''a.png".
func parseContentDisposition(header string) (string, map[string]string, error) {
	if header == "" {
		return "", nil, fmt.Errorf("client: empty content-disposition")
	}
	disposition, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", nil, err
	}
	return disposition, params, nil
}

func decodeRFC5987(value string) string {
	// value looks like: UTF-8''%E4%B8%AD%E6%96%87.png
	parts := strings.SplitN(value, "''", 2)
	if len(parts) != 2 {
		return value
	}
	decoded, err := url.QueryUnescape(parts[1])
	if err != nil {
		return value
	}
	return decoded
}
