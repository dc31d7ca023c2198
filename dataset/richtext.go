package dataset

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// Pre-compiled regexes; Normalize runs once per ingested turn.
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Normalizer converts rich-text turn content to plain markdown. Chat-tool
// exports commonly wrap message bodies in HTML fragments; normalizing at
// ingest keeps token counting and prompt rendering independent of the
// export format. Plain-text turns pass through unchanged.
type Normalizer struct {
	converter *md.Converter
}

// NewNormalizer creates a normalizer with GitHub-flavored markdown output.
func NewNormalizer() *Normalizer {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Normalizer{converter: converter}
}

// Normalize returns the turn text as plain markdown. Text without HTML
// markup is returned as-is; conversion failures fall back to the original
// text rather than dropping the turn.
func (n *Normalizer) Normalize(text string) string {
	if !containsMarkup(text) {
		return text
	}

	cleaned := scriptRe.ReplaceAllString(text, "")
	cleaned = styleRe.ReplaceAllString(cleaned, "")

	converted, err := n.converter.ConvertString(cleaned)
	if err != nil {
		return text
	}

	converted = excessiveLinesRe.ReplaceAllString(converted, "\n\n")
	return strings.TrimSpace(converted)
}

// containsMarkup reports whether the text parses to actual HTML elements.
// html.Parse is lenient and succeeds on plain text, so the check walks the
// tree looking for element nodes beyond the implicit html/head/body wrappers.
func containsMarkup(text string) bool {
	if !strings.Contains(text, "<") {
		return false
	}
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return false
	}

	found := false
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if found {
			return
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "html", "head", "body":
			default:
				found = true
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}
