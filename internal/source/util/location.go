package util

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FindLocation looks for a location on an HTML job page, trying known
// board selectors before falling back to "Location:" labels in the text.
func FindLocation(doc *goquery.Document) string {
	candidates := []string{
		"[itemprop='jobLocation']",
		"[data-qa='location']",
		".location",
		".posting-categories .location",
		".job__location",
		"[data-testid='job-location']",
	}

	for _, sel := range candidates {
		if t := CleanText(doc.Find(sel).First().Text()); t != "" {
			return NormalizeLocation(t)
		}
	}

	if v, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		if loc := ExtractLabeledLocation(v); loc != "" {
			return NormalizeLocation(loc)
		}
	}

	return ""
}

// ExtractLabeledLocation returns the text after a "Location:" style label,
// cut at the first line break.
func ExtractLabeledLocation(s string) string {
	low := strings.ToLower(s)

	labels := []string{
		"job location:",
		"locations:",
		"location:",
		"based in:",
		"based in",
	}

	for _, lab := range labels {
		i := strings.Index(low, lab)
		if i < 0 {
			continue
		}
		rest := strings.TrimSpace(s[i+len(lab):])
		for _, cut := range []string{"\n", "\r", " | ", " · "} {
			if j := strings.Index(rest, cut); j >= 0 {
				rest = rest[:j]
			}
		}
		rest = strings.Trim(CleanText(rest), " .;")
		if rest != "" && len(rest) <= 80 {
			return rest
		}
	}
	return ""
}
