package auth

import (
	"encoding/base64"
	"fmt"
	"net/textproto"
	"regexp"
	"strings"
)

// Scheme is the closed set of authorization schemes a stub can require.
type Scheme int

const (
	None Scheme = iota
	Basic
	Bearer
	Custom
)

func (s Scheme) String() string {
	switch s {
	case None:
		return "none"
	case Basic:
		return "basic"
	case Bearer:
		return "bearer"
	case Custom:
		return "custom"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ParseScheme parses a scheme name. The empty string means None.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "basic":
		return Basic, nil
	case "bearer":
		return Bearer, nil
	case "custom":
		return Custom, nil
	default:
		return None, fmt.Errorf("unknown authorization scheme %q", s)
	}
}

// Reasons reported with an Unauthorized verdict.
const (
	ReasonMissingHeader      = "no authorization header"
	ReasonCredentialMismatch = "credential mismatch"
)

// HeaderName is the header Basic and Bearer credentials are read from.
const HeaderName = "Authorization"

// Requirement is the credential a stub demands from a request.
type Requirement struct {
	Scheme     Scheme
	Header     string
	Credential string
	pattern    *regexp.Regexp
}

// NoRequirement is the zero requirement: every request is authorized.
var NoRequirement = Requirement{Scheme: None}

// NewRequirement builds a requirement. The credential also matches as a
// full regex when it compiles as one.
func NewRequirement(scheme Scheme, header, credential string) (Requirement, error) {
	if scheme == None {
		return NoRequirement, nil
	}
	if strings.TrimSpace(credential) == "" {
		return Requirement{}, fmt.Errorf("%s authorization requires a credential", scheme)
	}

	switch scheme {
	case Basic, Bearer:
		header = HeaderName
	case Custom:
		if header == "" {
			header = HeaderName
		}
	}

	req := Requirement{
		Scheme:     scheme,
		Header:     textproto.CanonicalMIMEHeaderKey(header),
		Credential: credential,
	}
	if re, err := regexp.Compile("^(?:" + credential + ")$"); err == nil {
		req.pattern = re
	}
	return req, nil
}

// Verdict is the outcome of validating a request against a Requirement.
type Verdict struct {
	Authorized bool
	Reason     string
}

func authorized() Verdict { return Verdict{Authorized: true} }

func unauthorized(reason string) Verdict { return Verdict{Reason: reason} }

// Validate checks the request headers against the requirement.
// headers must be keyed by canonical header name.
func Validate(req Requirement, headers map[string]string) Verdict {
	switch req.Scheme {
	case None:
		return authorized()
	case Basic:
		cred, present, prefixed := stripScheme(headers[req.Header], "Basic")
		if !present {
			return unauthorized(ReasonMissingHeader)
		}
		if !prefixed {
			return unauthorized(ReasonCredentialMismatch)
		}
		if req.matches(cred) {
			return authorized()
		}
		if decoded, err := base64.StdEncoding.DecodeString(cred); err == nil && req.matches(string(decoded)) {
			return authorized()
		}
		return unauthorized(ReasonCredentialMismatch)
	case Bearer:
		cred, present, prefixed := stripScheme(headers[req.Header], "Bearer")
		if !present {
			return unauthorized(ReasonMissingHeader)
		}
		if prefixed && req.matches(cred) {
			return authorized()
		}
		return unauthorized(ReasonCredentialMismatch)
	case Custom:
		value := strings.TrimSpace(headers[req.Header])
		if value == "" {
			return unauthorized(ReasonMissingHeader)
		}
		if req.matches(value) {
			return authorized()
		}
		return unauthorized(ReasonCredentialMismatch)
	default:
		return unauthorized(ReasonCredentialMismatch)
	}
}

func (r Requirement) matches(value string) bool {
	if value == r.Credential {
		return true
	}
	return r.pattern != nil && r.pattern.MatchString(value)
}

// stripScheme trims value and removes a case-insensitive scheme prefix.
// present is false when nothing but whitespace or the bare prefix is left.
func stripScheme(value, scheme string) (cred string, present, prefixed bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false, false
	}
	if len(value) < len(scheme) || !strings.EqualFold(value[:len(scheme)], scheme) {
		return value, true, false
	}
	rest := value[len(scheme):]
	if strings.TrimSpace(rest) == "" {
		return "", false, true
	}
	if rest[0] != ' ' && rest[0] != '\t' {
		return value, true, false
	}
	return strings.TrimSpace(rest), true, true
}
