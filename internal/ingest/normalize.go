package ingest

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// normalizeDocument maps the field aliases the feed uses onto an Item.
func normalizeDocument(doc map[string]any) Item {
	return Item{
		NativeID:    firstString(doc, "id", "documentId", "an"),
		Title:       cleanText(firstString(doc, "title", "headline")),
		Body:        bodyText(firstString(doc, "body", "text")),
		PublishedAt: firstString(doc, "publicationDate", "publication_date", "publishedAt"),
		Publication: firstString(doc, "source", "publication", "source_name"),
		URL:         firstString(doc, "url", "link"),
		Language:    firstString(doc, "language", "language_code"),
		Subjects:    stringList(doc["subjects"]),
		Companies:   stringList(doc["companies"]),
		Regions:     stringList(doc["regions"]),
	}
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := doc[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// stringList accepts a list of strings or of {code,name} objects.
func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var value string
		switch v := item.(type) {
		case string:
			value = v
		case map[string]any:
			value = firstString(v, "name", "code")
		}
		value = strings.TrimSpace(strings.ReplaceAll(value, ",", " "))
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

func looksLikeHTML(s string) bool {
	i := strings.Index(s, "<")
	return i >= 0 && strings.Contains(s[i:], ">")
}

// bodyText flattens HTML bodies to paragraphs of plain text.
func bodyText(raw string) string {
	if !looksLikeHTML(raw) {
		return cleanText(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return cleanText(raw)
	}
	doc.Find("script, style").Remove()
	var paragraphs []string
	doc.Find("p, li, h1, h2, h3, h4, h5, h6, pre").Each(func(_ int, sel *goquery.Selection) {
		if text := cleanText(sel.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return cleanText(doc.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

// cleanText NFC-normalizes s and collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
