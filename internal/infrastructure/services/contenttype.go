package services

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sophialabs/stubport/internal/domain/stub"
)

var contentTypeByExt = map[string]string{
	".json": "application/json",
	".xml":  "application/xml",
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".js":   "application/javascript",
}

// responseContentType picks the Content-Type a stub response is served with.
// A stub without a body gets none unless it names one. headers must already be
// canonicalized.
func responseContentType(r *stub.Response, headers map[string]string, body []byte) string {
	if r.ContentType != "" {
		return r.ContentType
	}
	if ct := headers["Content-Type"]; ct != "" {
		return ct
	}
	if r.BodyFile != "" {
		if ct, ok := contentTypeByExt[strings.ToLower(filepath.Ext(r.BodyFile))]; ok {
			return ct
		}
	}
	if len(body) == 0 {
		return ""
	}

	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
	case (trimmed[0] == '{' || trimmed[0] == '[') && gjson.ValidBytes(trimmed):
		return "application/json"
	case bytes.HasPrefix(trimmed, []byte("<?xml")):
		return "application/xml"
	}
	return http.DetectContentType(body)
}
