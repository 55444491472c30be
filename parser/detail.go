package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/avasiliev/bookcrawl/models"
)

// ExtractItem parses one detail document into an Item. Every field is
// extracted independently: a missing element yields an absent field,
// never an aborted extraction. A missing title leaves Title empty; the
// caller decides what to do with that (see ValidateItem).
func ExtractItem(body []byte, srcURL string) (*models.Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail document: %w", err)
	}

	item := &models.Item{
		Title:       strings.TrimSpace(doc.Find("h1").First().Text()),
		ProductInfo: extractProductInfo(doc),
		URL:         srcURL,
		ScrapedAt:   time.Now(),
	}

	item.Price = textOrNil(doc.Find("p.price_color").First())
	item.Rating = extractRating(doc)
	item.Availability = textOrNil(doc.Find("p.instock.availability").First())
	if item.Availability == nil {
		item.Availability = textOrNil(doc.Find("p.availability").First())
	}
	item.Description = extractDescription(doc)

	return item, nil
}

// extractRating reads the star-rating indicator. The indicator carries
// its rating as the second class token; fewer than two tokens, or a
// token outside One..Five, means no rating.
func extractRating(doc *goquery.Document) *models.Rating {
	class, ok := doc.Find("p.star-rating").First().Attr("class")
	if !ok {
		return nil
	}
	parts := strings.Fields(class)
	if len(parts) < 2 {
		return nil
	}
	rating, ok := models.ParseRating(parts[1])
	if !ok {
		return nil
	}
	return &rating
}

// extractDescription returns the text of the first paragraph following
// the description marker, or nil when the marker or paragraph is absent.
func extractDescription(doc *goquery.Document) *string {
	marker := doc.Find("#product_description").First()
	if marker.Length() == 0 {
		return nil
	}
	return textOrNil(marker.NextAllFiltered("p").First())
}

// extractProductInfo scans the characteristics table. Rows missing the
// header or data cell are skipped; duplicate keys overwrite.
func extractProductInfo(doc *goquery.Document) map[string]string {
	info := make(map[string]string)
	doc.Find("table.table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		header := row.Find("th").First()
		data := row.Find("td").First()
		if header.Length() == 0 || data.Length() == 0 {
			return
		}
		info[strings.TrimSpace(header.Text())] = strings.TrimSpace(data.Text())
	})
	return info
}

func textOrNil(sel *goquery.Selection) *string {
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	return &text
}
