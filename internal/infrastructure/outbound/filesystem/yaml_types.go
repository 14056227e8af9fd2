package filesystem

import "gopkg.in/yaml.v3"

// yamlStub is the YAML deserialization target for one stub.
type yamlStub struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Cycle   bool        `yaml:"cycle"`
	Request yamlRequest `yaml:"request"`
	// Response is either a single mapping or a sequence of mappings.
	Response yaml.Node   `yaml:"response"`
	Policy   *yamlPolicy `yaml:"policy,omitempty"`
}

type yamlRequest struct {
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Query   map[string]string `yaml:"query,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Post    *string           `yaml:"post,omitempty"`
	// JSON is either a JSON string or an inline YAML mapping/sequence.
	JSON          yaml.Node          `yaml:"json,omitempty"`
	Body          *yamlBody          `yaml:"body,omitempty"`
	Authorization *yamlAuthorization `yaml:"authorization,omitempty"`
}

type yamlBody struct {
	ContentType string          `yaml:"content_type,omitempty"`
	Conditions  []yamlCondition `yaml:"conditions,omitempty"`
	All         []yamlBody      `yaml:"all,omitempty"`
	Any         []yamlBody      `yaml:"any,omitempty"`
	Not         *yamlBody       `yaml:"not,omitempty"`
}

type yamlCondition struct {
	Extractor string `yaml:"extractor"`
	Matcher   string `yaml:"matcher"`
}

type yamlAuthorization struct {
	Scheme     string `yaml:"scheme"`
	Header     string `yaml:"header,omitempty"`
	Credential string `yaml:"credential"`
}

type yamlResponse struct {
	Status      int               `yaml:"status"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Body        *string           `yaml:"body"`
	File        string            `yaml:"file,omitempty"`
	ContentType string            `yaml:"content_type,omitempty"`
	// Latency is kept as written and must be whole milliseconds when served.
	Latency    yaml.Node `yaml:"latency,omitempty"`
	Substitute bool      `yaml:"substitute,omitempty"`
}

type yamlPolicy struct {
	RateLimit *yamlRateLimit `yaml:"rate_limit,omitempty"`
}

type yamlRateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
	Key   string  `yaml:"key,omitempty"`
}
