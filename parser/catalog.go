package parser

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// ExtractRefs parses one listing document and returns the detail-page
// URLs for every item container on it, resolved absolute against base,
// in document order. Containers missing the detail anchor are skipped.
// An empty result is the end-of-catalog signal, not a parse failure.
func ExtractRefs(body []byte, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing document: %w", err)
	}

	var refs []string
	doc.Find("article.product_pod").Each(func(_ int, pod *goquery.Selection) {
		href, ok := pod.Find("h3 a").First().Attr("href")
		if !ok || href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		refs = append(refs, base.ResolveReference(ref).String())
	})
	return refs, nil
}
