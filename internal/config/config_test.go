package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
virtual_hosts:
  - host: "0.0.0.0"
    port: 8080
    server_names: ["example.com"]
    root: "./www"
    index: "index.html"
    client_max_body_size: 1024
    is_default: true
    locations:
      - path: "/"
        methods: ["GET"]
      - path: "/a/"
      - path: "/a/b/"
      - path: "~ \\.php$"
        cgi:
          .php: "/usr/bin/php-cgi"
  - host: "0.0.0.0"
    port: 8080
    server_names: ["other.com"]
    root: "./www2"
`

func TestParseBuildsVirtualHosts(t *testing.T) {
	tree, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, tree.VirtualHosts, 2)

	ep := Endpoint{Host: "0.0.0.0", Port: 8080}
	vhosts := tree.VirtualHostsFor(ep)
	require.Len(t, vhosts, 2)
	assert.True(t, vhosts[0].IsDefault)
	assert.False(t, vhosts[1].IsDefault)
}

func TestParseDefaultsFirstVHostWhenNoneMarked(t *testing.T) {
	doc := `
virtual_hosts:
  - host: "127.0.0.1"
    port: 9000
  - host: "127.0.0.1"
    port: 9000
    server_names: ["b.com"]
`
	tree, err := Parse([]byte(doc))
	require.NoError(t, err)
	vhosts := tree.VirtualHostsFor(Endpoint{Host: "127.0.0.1", Port: 9000})
	require.Len(t, vhosts, 2)
	assert.True(t, vhosts[0].IsDefault)
}

func TestBuildLocationTagsPrefixAndRegex(t *testing.T) {
	tree, err := Parse([]byte(sample))
	require.NoError(t, err)

	vh := tree.VirtualHosts[0]
	require.Len(t, vh.Locations, 4)

	_, isPrefix := vh.Locations[0].Matcher.(PrefixMatcher)
	assert.True(t, isPrefix)

	_, isRegex := vh.Locations[3].Matcher.(RegexMatcher)
	assert.True(t, isRegex)
}

func TestBuildLocationRejectsBadPath(t *testing.T) {
	doc := `
virtual_hosts:
  - host: "x"
    port: 80
    locations:
      - path: "no-leading-slash"
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
}

func TestMethodAllowedEmptyListAllowsAll(t *testing.T) {
	loc := &Location{}
	assert.True(t, loc.MethodAllowed("GET"))
	assert.True(t, loc.MethodAllowed("DELETE"))

	loc.Methods = []string{"GET"}
	assert.True(t, loc.MethodAllowed("GET"))
	assert.False(t, loc.MethodAllowed("POST"))
}

func TestEffectiveOverrides(t *testing.T) {
	vh := &VirtualHost{Root: "./www", Index: "index.html", Autoindex: false}
	loc := &Location{}
	assert.Equal(t, "./www", loc.EffectiveRoot(vh))
	assert.Equal(t, "index.html", loc.EffectiveIndex(vh))
	assert.False(t, loc.EffectiveAutoindex(vh))

	on := true
	loc2 := &Location{Root: "./pub", Index: "home.html", Autoindex: &on}
	assert.Equal(t, "./pub", loc2.EffectiveRoot(vh))
	assert.Equal(t, "home.html", loc2.EffectiveIndex(vh))
	assert.True(t, loc2.EffectiveAutoindex(vh))
}
