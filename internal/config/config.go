// Package config describes the immutable virtual-host tree the core server
// operates against. Loading the declarative file format is an ingestion
// convenience (internal/config.Load); the server itself only ever sees the
// validated *Tree produced here.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathMatcher selects which requests a Location applies to. It is tagged at
// load time so the router never has to re-decide "is this a regex path"
// per request.
type PathMatcher interface {
	isPathMatcher()
}

// PrefixMatcher matches requests whose path starts with Prefix.
type PrefixMatcher struct {
	Prefix string
}

func (PrefixMatcher) isPathMatcher() {}

// RegexMatcher matches requests whose path satisfies Pattern. Locations
// written as `~ <pattern>` in the source document compile to this.
type RegexMatcher struct {
	Raw     string
	Pattern *regexp.Regexp
}

func (RegexMatcher) isPathMatcher() {}

// Return describes a location's redirect rule.
type Return struct {
	Code   int
	Target string
}

// Location is a sub-configuration selected by path prefix or regex within a
// virtual host. Immutable after Load returns.
type Location struct {
	RawPath       string
	Matcher       PathMatcher
	Methods       []string
	Root          string // overrides VirtualHost.Root when non-empty
	Index         string // overrides VirtualHost.Index when non-empty
	Autoindex     *bool  // overrides VirtualHost.Autoindex when non-nil
	UploadPath    string
	CGIExtensions map[string]string // extension (with leading dot) -> interpreter path
	Return        *Return
}

// EffectiveRoot returns the document root this location serves from, given
// its owning virtual host.
func (l *Location) EffectiveRoot(vh *VirtualHost) string {
	if l.Root != "" {
		return strings.TrimSuffix(l.Root, "/")
	}
	return strings.TrimSuffix(vh.Root, "/")
}

// EffectiveIndex returns the index filename this location serves, given its
// owning virtual host.
func (l *Location) EffectiveIndex(vh *VirtualHost) string {
	if l.Index != "" {
		return l.Index
	}
	return vh.Index
}

// EffectiveAutoindex returns whether directory listing is enabled, given its
// owning virtual host.
func (l *Location) EffectiveAutoindex(vh *VirtualHost) bool {
	if l.Autoindex != nil {
		return *l.Autoindex
	}
	return vh.Autoindex
}

// MethodAllowed reports whether method is permitted by this location. An
// empty Methods list allows every method (spec.md §4.3 item 12).
func (l *Location) MethodAllowed(method string) bool {
	if len(l.Methods) == 0 {
		return true
	}
	for _, m := range l.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// VirtualHost is a configured server identity bound to a (host, port) with
// one or more server-name aliases. Immutable after Load returns.
type VirtualHost struct {
	Host              string
	Port              int
	ServerNames       []string
	ErrorPages        map[int]string
	ClientMaxBodySize int64
	Root              string
	Index             string
	Autoindex         bool
	Methods           []string
	Locations         []*Location
	IsDefault         bool
}

// Endpoint identifies a listening (host, port) pair.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Tree is the immutable, fully validated configuration the core server
// consumes. It is never mutated after Load returns; handlers share it by
// read-only reference.
type Tree struct {
	VirtualHosts []*VirtualHost
	byEndpoint   map[Endpoint][]*VirtualHost
}

// Endpoints returns every distinct listening endpoint the tree describes, in
// first-seen order.
func (t *Tree) Endpoints() []Endpoint {
	seen := make(map[Endpoint]bool)
	var out []Endpoint
	for _, vh := range t.VirtualHosts {
		ep := Endpoint{Host: vh.Host, Port: vh.Port}
		if !seen[ep] {
			seen[ep] = true
			out = append(out, ep)
		}
	}
	return out
}

// VirtualHostsFor returns the virtual hosts bound to ep, in configuration
// order.
func (t *Tree) VirtualHostsFor(ep Endpoint) []*VirtualHost {
	return t.byEndpoint[ep]
}

// --- document shape consumed by Load ---

type document struct {
	VirtualHosts []vhostDoc `yaml:"virtual_hosts"`
}

type vhostDoc struct {
	Host              string            `yaml:"host"`
	Port              int               `yaml:"port"`
	ServerNames       []string          `yaml:"server_names"`
	Root              string            `yaml:"root"`
	Index             string            `yaml:"index"`
	Autoindex         bool              `yaml:"autoindex"`
	ClientMaxBodySize int64             `yaml:"client_max_body_size"`
	ErrorPages        map[int]string    `yaml:"error_pages"`
	IsDefault         bool              `yaml:"is_default"`
	Methods           []string          `yaml:"methods"`
	Locations         []locationDoc     `yaml:"locations"`
}

type locationDoc struct {
	Path       string            `yaml:"path"`
	Methods    []string          `yaml:"methods"`
	Root       string            `yaml:"root"`
	Index      string            `yaml:"index"`
	Autoindex  *bool             `yaml:"autoindex"`
	UploadPath string            `yaml:"upload_path"`
	CGI        map[string]string `yaml:"cgi"`
	Return     *returnDoc        `yaml:"return"`
}

type returnDoc struct {
	Code   int    `yaml:"code"`
	Target string `yaml:"target"`
}

// Load reads and validates a YAML configuration document from path,
// producing an immutable *Tree. The loader is intentionally thin: it does
// not implement a configuration grammar, only a typed decode of an
// already-structured document, per spec.md §1's "configuration-loader
// collaborator" contract.
func Load(path string) (*Tree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML configuration document already read
// into memory.
func Parse(raw []byte) (*Tree, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if len(doc.VirtualHosts) == 0 {
		return nil, fmt.Errorf("config: no virtual_hosts defined")
	}

	tree := &Tree{byEndpoint: make(map[Endpoint][]*VirtualHost)}
	for _, vd := range doc.VirtualHosts {
		vh, err := buildVirtualHost(vd)
		if err != nil {
			return nil, err
		}
		tree.VirtualHosts = append(tree.VirtualHosts, vh)
		ep := Endpoint{Host: vh.Host, Port: vh.Port}
		tree.byEndpoint[ep] = append(tree.byEndpoint[ep], vh)
	}

	// Invariant (spec.md §3): exactly one isDefault=true VirtualHost per
	// listening endpoint. If the document marks none, the first virtual
	// host bound to the endpoint becomes the default; when it marks several,
	// every mark is kept as written.
	for ep, vhosts := range tree.byEndpoint {
		hasDefault := false
		for _, vh := range vhosts {
			if vh.IsDefault {
				hasDefault = true
				break
			}
		}
		if !hasDefault {
			vhosts[0].IsDefault = true
		}
		_ = ep
	}

	return tree, nil
}

func buildVirtualHost(vd vhostDoc) (*VirtualHost, error) {
	if vd.Port == 0 {
		return nil, fmt.Errorf("config: virtual host %q missing port", vd.Host)
	}
	vh := &VirtualHost{
		Host:              vd.Host,
		Port:              vd.Port,
		ServerNames:       vd.ServerNames,
		ErrorPages:        vd.ErrorPages,
		ClientMaxBodySize: vd.ClientMaxBodySize,
		Root:              vd.Root,
		Index:             vd.Index,
		Autoindex:         vd.Autoindex,
		Methods:           vd.Methods,
		IsDefault:         vd.IsDefault,
	}
	if vh.ErrorPages == nil {
		vh.ErrorPages = map[int]string{}
	}
	if vh.Root == "" {
		vh.Root = "./www"
	}
	if vh.Index == "" {
		vh.Index = "index.html"
	}

	for _, ld := range vd.Locations {
		loc, err := buildLocation(ld)
		if err != nil {
			return nil, fmt.Errorf("config: virtual host %q: %w", vd.Host, err)
		}
		vh.Locations = append(vh.Locations, loc)
	}
	return vh, nil
}

func buildLocation(ld locationDoc) (*Location, error) {
	loc := &Location{
		RawPath:       ld.Path,
		Methods:       ld.Methods,
		Root:          ld.Root,
		Index:         ld.Index,
		Autoindex:     ld.Autoindex,
		UploadPath:    ld.UploadPath,
		CGIExtensions: ld.CGI,
	}
	if ld.Return != nil {
		loc.Return = &Return{Code: ld.Return.Code, Target: ld.Return.Target}
	}

	// Invariant (spec.md §3): a Location's path either starts with "/"
	// (prefix match) or begins with "~" followed by whitespace then a
	// regex pattern.
	switch {
	case strings.HasPrefix(ld.Path, "~"):
		pattern := strings.TrimSpace(strings.TrimPrefix(ld.Path, "~"))
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("location %q: invalid regex: %w", ld.Path, err)
		}
		loc.Matcher = RegexMatcher{Raw: pattern, Pattern: re}
	case strings.HasPrefix(ld.Path, "/"):
		loc.Matcher = PrefixMatcher{Prefix: ld.Path}
	default:
		return nil, fmt.Errorf("location path %q must start with / or ~", ld.Path)
	}

	return loc, nil
}
