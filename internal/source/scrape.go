package source

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

// userAgents is rotated per request. Storefronts throttle aggressively on a
// repeated agent string.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:124.0) Gecko/20100101 Firefox/124.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// storefrontPaths are the search URL shapes that list a seller's items.
// Different marketplaces answer different shapes and no single shape is
// complete; results from all shapes are unioned by ASIN.
var storefrontPaths = []string{
	"/s?me=%s&marketplace=amazon",
	"/s?i=merchant-items&me=%s",
	"/s?me=%s",
}

// ScrapeConfig configures the storefront HTML scraper.
type ScrapeConfig struct {
	// Marketplace is the storefront domain suffix, e.g. "co.uk" or "de".
	Marketplace string
	// BaseURL overrides the marketplace-derived host. Tests point this at a
	// local server.
	BaseURL string
	// MaxPages bounds result pagination per URL shape.
	MaxPages int
	// PageDelay is the mean pause between page requests; the actual pause is
	// jittered around it.
	PageDelay time.Duration
}

// ScrapeSource extracts a seller's products from storefront search HTML.
// Last resort in the chain: slow, rate limited and the least structured.
type ScrapeSource struct {
	cfg    ScrapeConfig
	client *http.Client
	log    logx.Logger
}

func NewScrapeSource(cfg ScrapeConfig, client *http.Client, log logx.Logger) *ScrapeSource {
	if cfg.Marketplace == "" {
		cfg.Marketplace = "com"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ScrapeSource{cfg: cfg, client: client, log: log}
}

func (s *ScrapeSource) Name() string { return "scrape" }
func (s *ScrapeSource) Cached() bool { return false }

func (s *ScrapeSource) baseURL() string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	return "https://www.amazon." + s.cfg.Marketplace
}

func (s *ScrapeSource) FetchProducts(ctx context.Context, sellerID string) ([]catalog.Product, error) {
	seen := map[string]bool{}
	var out []catalog.Product

	for _, shape := range storefrontPaths {
		for page := 1; page <= s.cfg.MaxPages; page++ {
			url := s.baseURL() + fmt.Sprintf(shape, sellerID)
			if page > 1 {
				url += "&page=" + strconv.Itoa(page)
			}

			batch, err := s.fetchPage(ctx, url, sellerID)
			if err != nil {
				s.log.Warn("storefront page fetch failed",
					logx.String("seller", sellerID), logx.Int("page", page), logx.Err(err))
				break
			}

			fresh := 0
			for _, p := range batch {
				if seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				out = append(out, p)
				fresh++
			}
			if fresh == 0 {
				break // exhausted this URL shape
			}
			if err := s.pause(ctx); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// pause sleeps a jittered page delay, honoring cancellation.
func (s *ScrapeSource) pause(ctx context.Context) error {
	d := s.cfg.PageDelay
	jitter := time.Duration(rand.Int63n(int64(d))) - d/2
	select {
	case <-time.After(d + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ScrapeSource) fetchPage(ctx context.Context, url, sellerID string) ([]catalog.Product, error) {
	doc, err := s.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return s.extract(doc, sellerID), nil
}

func (s *ScrapeSource) get(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusForbidden:
		return nil, fmt.Errorf("storefront throttled (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// extract pulls products out of a search result page. Cards without a usable
// ASIN or with a sponsored marker are skipped.
func (s *ScrapeSource) extract(doc *goquery.Document, sellerID string) []catalog.Product {
	var out []catalog.Product
	doc.Find("div[data-asin]").Each(func(_ int, sel *goquery.Selection) {
		id, _ := sel.Attr("data-asin")
		if !catalog.ValidID(id) {
			return
		}
		if sel.Find(".s-sponsored-label-text").Length() > 0 {
			return
		}
		if ct, ok := sel.Attr("data-component-type"); ok && ct == "sp-sponsored-result" {
			return
		}

		title := strings.TrimSpace(sel.Find("h2 a span").First().Text())
		if title == "" {
			title = strings.TrimSpace(sel.Find("h2 span").First().Text())
		}

		p := catalog.Product{
			ID:          id,
			Title:       title,
			URL:         catalog.DetailURL(s.cfg.Marketplace, id),
			SellerID:    sellerID,
			Marketplace: s.cfg.Marketplace,
		}
		// The offscreen span carries the full display price, e.g. "£12.99".
		p.Price = strings.TrimSpace(sel.Find("span.a-price span.a-offscreen").First().Text())
		out = append(out, p)
	})
	return out
}

// SellerName scrapes the storefront's seller profile page for the display
// name.
func (s *ScrapeSource) SellerName(ctx context.Context, sellerID string) (string, error) {
	doc, err := s.get(ctx, s.baseURL()+"/sp?seller="+sellerID)
	if err != nil {
		return "", err
	}
	if name := strings.TrimSpace(doc.Find("h1#seller-name").First().Text()); name != "" {
		return name, nil
	}
	// Fall back to the page title, shaped "... Seller Profile: Name".
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if i := strings.Index(title, "Seller Profile:"); i >= 0 {
		return strings.TrimSpace(title[i+len("Seller Profile:"):]), nil
	}
	return "", nil
}
