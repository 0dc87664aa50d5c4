package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors tried in order when locating the main content of a page.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

// extractContent pulls the main text out of a parsed page, falling back to
// the whole body when no content container is present.
func extractContent(sel *goquery.Selection) string {
	var content string
	for _, selector := range contentSelectors {
		if found := sel.Find(selector); found.Length() > 0 {
			content = found.Text()
			break
		}
	}
	if content == "" {
		content = sel.Find("body").Text()
	}
	return cleanText(content)
}

func extractTitle(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Find("title").First().Text())
}

func cleanText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}
