package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"shelfwatch/internal/catalog"
	logx "shelfwatch/pkg/logx"
)

// listingsSchema is the contract for the storefront API's listings payload.
// Responses that fail validation are rejected wholesale rather than half
// decoded into the inventory.
const listingsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["seller_id", "products"],
  "properties": {
    "seller_id": {"type": "string", "minLength": 1},
    "seller_name": {"type": "string"},
    "marketplace": {"type": "string"},
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["asin"],
        "properties": {
          "asin": {"type": "string", "pattern": "^[A-Za-z0-9]{10}$"},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "price": {"type": "number", "minimum": 0},
          "currency": {"type": "string"},
          "available": {"type": "boolean"}
        }
      }
    }
  }
}`

type apiListing struct {
	ASIN      string  `json:"asin"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Available *bool   `json:"available"`
}

type apiPayload struct {
	SellerID    string       `json:"seller_id"`
	SellerName  string       `json:"seller_name"`
	Marketplace string       `json:"marketplace"`
	Products    []apiListing `json:"products"`
}

// APIConfig configures the storefront API adapter.
type APIConfig struct {
	BaseURL     string
	Token       string
	Marketplace string
}

// APISource fetches listings from a structured storefront API. Highest
// priority in the chain: cheapest and most accurate when it answers.
type APISource struct {
	cfg    APIConfig
	client *http.Client
	schema *jsonschema.Schema
	log    logx.Logger
}

func NewAPISource(cfg APIConfig, client *http.Client, log logx.Logger) (*APISource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api source: base URL required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(listingsSchema))
	if err != nil {
		return nil, fmt.Errorf("api source: parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("listings.json", doc); err != nil {
		return nil, fmt.Errorf("api source: add schema: %w", err)
	}
	schema, err := compiler.Compile("listings.json")
	if err != nil {
		return nil, fmt.Errorf("api source: compile schema: %w", err)
	}

	return &APISource{cfg: cfg, client: client, schema: schema, log: log}, nil
}

func (s *APISource) Name() string { return "api" }
func (s *APISource) Cached() bool { return false }

func (s *APISource) FetchProducts(ctx context.Context, sellerID string) ([]catalog.Product, error) {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/sellers/" + sellerID + "/listings"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Seller unknown to the API; let the next source try.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listings request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read listings body: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("decode listings body: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("listings payload rejected by schema: %w", err)
	}

	var payload apiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}

	marketplace := payload.Marketplace
	if marketplace == "" {
		marketplace = s.cfg.Marketplace
	}

	out := make([]catalog.Product, 0, len(payload.Products))
	for _, l := range payload.Products {
		if !catalog.ValidID(l.ASIN) {
			s.log.Debug("api listing with invalid id dropped", logx.String("id", l.ASIN))
			continue
		}
		p := catalog.Product{
			ID:          l.ASIN,
			Title:       l.Title,
			URL:         l.URL,
			Currency:    l.Currency,
			SellerID:    sellerID,
			Marketplace: marketplace,
		}
		if l.Price > 0 {
			p.Price = strconv.FormatFloat(l.Price, 'f', 2, 64)
		}
		if p.URL == "" {
			p.URL = catalog.DetailURL(marketplace, l.ASIN)
		}
		if l.Available != nil {
			p.Unavailable = !*l.Available
		}
		out = append(out, p)
	}
	return out, nil
}

// SellerName resolves the storefront display name from the listings payload.
func (s *APISource) SellerName(ctx context.Context, sellerID string) (string, error) {
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/sellers/" + sellerID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("seller request: unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		SellerName string `json:"seller_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", err
	}
	return payload.SellerName, nil
}
