// Package router implements virtual-host and location selection
// (spec.md §4.2). Both selections are pure functions over an
// already-loaded *config.Tree; neither mutates the tree nor holds any
// state of its own.
package router

import (
	"strings"

	"github.com/MariiaZhytnikova/webserv/internal/config"
)

// SelectVirtualHost implements spec.md §4.2's virtual host selection
// rule, given the endpoint a connection arrived on and the raw `host`
// header value (which may carry a port suffix; it is stripped before
// comparison).
func SelectVirtualHost(tree *config.Tree, ep config.Endpoint, hostHeader string) *config.VirtualHost {
	vhosts := tree.VirtualHostsFor(ep)
	if len(vhosts) == 0 {
		return nil
	}

	host := stripPort(hostHeader)

	for _, vh := range vhosts {
		for _, name := range vh.ServerNames {
			if name == host {
				return vh
			}
		}
	}

	for _, vh := range vhosts {
		if vh.IsDefault {
			return vh
		}
	}

	return vhosts[0]
}

// stripPort removes a trailing ":<port>" from a Host header value.
func stripPort(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}

// SelectLocation implements spec.md §4.2's ordered location-selection
// rule: exact match, then first regex match, then longest matching
// prefix, then the location equal to "/", then the first location as a
// last resort. Returns nil if the virtual host has no locations at all.
func SelectLocation(vh *config.VirtualHost, path string) *config.Location {
	if len(vh.Locations) == 0 {
		return nil
	}

	for _, loc := range vh.Locations {
		if pm, ok := loc.Matcher.(config.PrefixMatcher); ok && pm.Prefix == path {
			return loc
		}
	}

	for _, loc := range vh.Locations {
		if rm, ok := loc.Matcher.(config.RegexMatcher); ok {
			if rm.Pattern.MatchString(path) {
				return loc
			}
		}
	}

	var best *config.Location
	bestLen := -1
	for _, loc := range vh.Locations {
		pm, ok := loc.Matcher.(config.PrefixMatcher)
		if !ok {
			continue
		}
		if strings.HasPrefix(path, pm.Prefix) && len(pm.Prefix) > bestLen {
			best = loc
			bestLen = len(pm.Prefix)
		}
	}
	if best != nil {
		return best
	}

	for _, loc := range vh.Locations {
		if pm, ok := loc.Matcher.(config.PrefixMatcher); ok && pm.Prefix == "/" {
			return loc
		}
	}

	return vh.Locations[0]
}
