package detector

import "strings"

// hostTable stores exact hosts; a host also matches any of its subdomains.
type hostTable map[string]struct{}

func newHostTable(hosts []string) hostTable {
	table := make(hostTable, len(hosts))
	for _, raw := range hosts {
		value := strings.TrimSpace(strings.ToLower(raw))
		value = strings.TrimPrefix(value, "*.")
		value = strings.TrimPrefix(value, ".")
		if value == "" {
			continue
		}
		table[value] = struct{}{}
	}
	return table
}

func (t hostTable) contains(host string) bool {
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	for host != "" {
		if _, ok := t[host]; ok {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
	return false
}

// DefaultStaticHosts are sites known to serve complete server-rendered HTML.
var DefaultStaticHosts = []string{
	"wikipedia.org",
	"wikimedia.org",
	"developer.mozilla.org",
	"docs.python.org",
	"go.dev",
	"pkg.go.dev",
	"golang.org",
	"news.ycombinator.com",
	"stackoverflow.com",
	"stackexchange.com",
	"gnu.org",
	"rfc-editor.org",
	"example.com",
	"craigslist.org",
}

// DefaultHeavyHosts are sites known to need script execution for useful content.
var DefaultHeavyHosts = []string{
	"twitter.com",
	"x.com",
	"instagram.com",
	"facebook.com",
	"linkedin.com",
	"tiktok.com",
	"youtube.com",
	"airbnb.com",
	"netflix.com",
	"figma.com",
	"notion.so",
	"discord.com",
}
