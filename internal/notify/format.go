package notify

import (
	"fmt"
	"html"
	"strings"

	"shelfwatch/internal/catalog"
)

// FormatNewListing renders the alert message for one new product.
// HTML parse mode; user-controlled strings are escaped.
func FormatNewListing(sellerName string, p catalog.Product) string {
	var b strings.Builder
	b.WriteString("🆕 <b>New listing</b>")
	if sellerName != "" {
		b.WriteString(" from <b>")
		b.WriteString(html.EscapeString(sellerName))
		b.WriteString("</b>")
	}
	b.WriteString("\n\n")
	b.WriteString(html.EscapeString(p.Title))
	if p.Price != "" {
		b.WriteString("\n💰 ")
		b.WriteString(html.EscapeString(p.Price))
		if p.Currency != "" && !strings.Contains(p.Price, p.Currency) {
			b.WriteString(" " + html.EscapeString(p.Currency))
		}
	}
	b.WriteString("\n")
	b.WriteString(p.URL)
	return b.String()
}

// FormatAuditLine renders the operator-facing delivery-outcome report.
func FormatAuditLine(userID int64, p catalog.Product, res Result) string {
	if res.Delivered {
		return fmt.Sprintf("✅ delivered: user=%d seller=%s product=%s attempts=%d",
			userID, p.SellerID, p.ID, res.Attempts)
	}
	errText := "unknown"
	if res.Err != nil {
		errText = res.Err.Error()
	}
	return fmt.Sprintf("⚠️ undelivered: user=%d seller=%s product=%s attempts=%d err=%s",
		userID, p.SellerID, p.ID, res.Attempts, errText)
}
