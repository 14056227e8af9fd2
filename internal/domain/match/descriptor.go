package match

import "net/textproto"

// Descriptor is a live HTTP request in domain terms, free of net/http.
// It only ever holds literal values; patterns live in CompiledStub.
type Descriptor struct {
	Method  Method
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
}

// NewDescriptor builds a Descriptor, keeping the first value of repeated query
// parameters and headers and canonicalizing header names.
func NewDescriptor(method Method, path string, query, headers map[string][]string, body []byte) *Descriptor {
	d := &Descriptor{
		Method:  method,
		Path:    path,
		Query:   make(map[string]string, len(query)),
		Headers: make(map[string]string, len(headers)),
		Body:    body,
	}
	for k, v := range query {
		if len(v) > 0 {
			d.Query[k] = v[0]
		} else {
			d.Query[k] = ""
		}
	}
	for k, v := range headers {
		name := textproto.CanonicalMIMEHeaderKey(k)
		if _, seen := d.Headers[name]; seen {
			continue
		}
		if len(v) > 0 {
			d.Headers[name] = v[0]
		} else {
			d.Headers[name] = ""
		}
	}
	return d
}

// Header returns the value of the named header, case-insensitively.
func (d *Descriptor) Header(name string) (string, bool) {
	v, ok := d.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}
