package services

import (
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/valyala/fasttemplate"

	"github.com/sophialabs/stubport/internal/domain/match"
)

const (
	substituteStart = "<%"
	substituteEnd   = "%>"
)

// Substitute replaces <% token %> placeholders in body with values taken from
// the request. Supported tokens:
//
//	method, path, body
//	query.NAME      first value of a query parameter
//	headers.NAME    request header, case-insensitive
//	url.N           capture group N of the stub's url pattern (0 is the whole path)
//	json.PATH       gjson path into a JSON request body
//
// Unknown tokens render as the empty string.
func Substitute(body []byte, req *match.Descriptor, captures []string) []byte {
	if len(body) == 0 || !strings.Contains(string(body), substituteStart) {
		return body
	}

	out := fasttemplate.ExecuteFuncString(string(body), substituteStart, substituteEnd, func(w io.Writer, tag string) (int, error) {
		return io.WriteString(w, lookupToken(strings.TrimSpace(tag), req, captures))
	})
	return []byte(out)
}

func lookupToken(tag string, req *match.Descriptor, captures []string) string {
	switch tag {
	case "method":
		return string(req.Method)
	case "path":
		return req.Path
	case "body":
		return string(req.Body)
	}

	kind, name, ok := strings.Cut(tag, ".")
	if !ok || name == "" {
		return ""
	}

	switch kind {
	case "query":
		return req.Query[name]
	case "headers":
		v, _ := req.Header(name)
		return v
	case "url":
		i, err := strconv.Atoi(name)
		if err != nil || i < 0 || i >= len(captures) {
			return ""
		}
		return captures[i]
	case "json":
		if len(req.Body) == 0 {
			return ""
		}
		return gjson.GetBytes(req.Body, name).String()
	default:
		return ""
	}
}
