// Package parser extracts structured records from catalog markup.
// Extractors are pure functions over fetched documents and perform no
// network access.
package parser

import (
	"fmt"
	"strings"

	"github.com/avasiliev/bookcrawl/models"
)

// ValidateItem ensures the extractor captured the required fields.
// Title is the only required field; everything else may be absent.
func ValidateItem(item *models.Item) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("item missing title")
	}
	return nil
}
