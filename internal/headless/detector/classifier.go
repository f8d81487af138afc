// Package detector decides whether a fetched page needs a script-executing renderer.
package detector

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Hint is the outcome of the domain fast path.
type Hint int

// Domain hints.
const (
	HintUnknown Hint = iota
	HintStatic
	HintHeavy
)

func (h Hint) String() string {
	switch h {
	case HintStatic:
		return "static"
	case HintHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// Classifier is the pluggable rendering decision strategy.
type Classifier interface {
	DomainHint(rawURL string) Hint
	Classify(html []byte, rawURL string) Analysis
}

// Analysis holds the structural metrics behind a rendering decision.
type Analysis struct {
	Hint              Hint
	TextLength        int
	Paragraphs        int
	Headings          int
	Containers        int
	Links             int
	Scripts           int
	LazyElements      int
	Substantial       bool
	LikelyShell       bool
	RequiresRendering bool
}

// Config tunes the heuristic thresholds and host tables.
type Config struct {
	StaticHosts     []string
	HeavyHosts      []string
	MinTextLength   int
	ShellTextLength int
	MinParagraphs   int
	MaxShellScripts int
}

// DefaultConfig returns the stock thresholds and host tables.
func DefaultConfig() Config {
	return Config{
		StaticHosts:     DefaultStaticHosts,
		HeavyHosts:      DefaultHeavyHosts,
		MinTextLength:   500,
		ShellTextLength: 200,
		MinParagraphs:   2,
		MaxShellScripts: 3,
	}
}

// Heuristic classifies pages from DOM structure.
type Heuristic struct {
	cfg    Config
	static hostTable
	heavy  hostTable
}

// NewHeuristic creates a detector. Zero thresholds fall back to DefaultConfig values.
func NewHeuristic(cfg Config) *Heuristic {
	def := DefaultConfig()
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = def.MinTextLength
	}
	if cfg.ShellTextLength <= 0 {
		cfg.ShellTextLength = def.ShellTextLength
	}
	if cfg.MinParagraphs <= 0 {
		cfg.MinParagraphs = def.MinParagraphs
	}
	if cfg.MaxShellScripts <= 0 {
		cfg.MaxShellScripts = def.MaxShellScripts
	}
	return &Heuristic{
		cfg:    cfg,
		static: newHostTable(cfg.StaticHosts),
		heavy:  newHostTable(cfg.HeavyHosts),
	}
}

// DomainHint consults the static and heavy host tables.
func (h *Heuristic) DomainHint(rawURL string) Hint {
	u, err := url.Parse(rawURL)
	if err != nil {
		return HintUnknown
	}
	host := u.Hostname()
	switch {
	case h.static.contains(host):
		return HintStatic
	case h.heavy.contains(host):
		return HintHeavy
	default:
		return HintUnknown
	}
}

const (
	contentContainerSelector = "article, main, section, [role='main']"
	headingSelector          = "h1, h2, h3, h4, h5, h6"
	lazySelector             = "[loading='lazy'], [data-src], [data-lazy], [data-lazy-src], [data-srcset]"
	invisibleSelector        = "script, style, noscript, template"
)

// Classify returns the rendering decision for html fetched from rawURL.
func (h *Heuristic) Classify(html []byte, rawURL string) Analysis {
	hint := h.DomainHint(rawURL)
	switch hint {
	case HintStatic:
		return Analysis{Hint: hint}
	case HintHeavy:
		return Analysis{Hint: hint, RequiresRendering: true}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Analysis{Hint: hint}
	}
	a := Analysis{
		Hint:         hint,
		TextLength:   visibleTextLength(doc),
		Paragraphs:   doc.Find("p").Length(),
		Headings:     doc.Find(headingSelector).Length(),
		Containers:   doc.Find(contentContainerSelector).Length(),
		Links:        doc.Find("a[href]").Length(),
		Scripts:      doc.Find("script").Length(),
		LazyElements: doc.Find(lazySelector).Length(),
	}
	a.Substantial = a.TextLength > h.cfg.MinTextLength ||
		(a.Paragraphs > h.cfg.MinParagraphs && a.Links >= 1 && (a.Headings > 0 || a.Containers > 0))
	a.LikelyShell = a.TextLength < h.cfg.ShellTextLength &&
		a.Paragraphs < h.cfg.MinParagraphs &&
		a.Headings == 0 &&
		a.Scripts > h.cfg.MaxShellScripts
	a.RequiresRendering = (!a.Substantial && a.LikelyShell) || a.LazyElements > 0
	return a
}

func visibleTextLength(doc *goquery.Document) int {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root = root.Clone()
	root.Find(invisibleSelector).Remove()
	return len(strings.Join(strings.Fields(root.Text()), " "))
}
