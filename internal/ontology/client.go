package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atlasbio/provenance-backend/internal/platform/logger"
	"github.com/atlasbio/provenance-backend/internal/platform/rediscache"
)

// Client fetches the controlled vocabularies from the external vocabulary
// service. It is only used during startup; the resulting Registry is the
// process-lifetime view of the ontology.
type Client struct {
	log     *logger.Logger
	baseURL string
	http    *http.Client
	cache   *rediscache.Cache
}

func NewClient(log *logger.Logger, cache *rediscache.Cache) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("ontology: logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("ONTOLOGY_BASE_URL")), "/")
	if base == "" {
		return nil, nil
	}
	return &Client{
		log:     log.With("client", "Ontology"),
		baseURL: base,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   cache,
	}, nil
}

// FetchDocument loads every vocabulary the registry needs. Any failure is
// returned as-is so the caller can fail startup instead of running with a
// partial ontology.
func (c *Client) FetchDocument(ctx context.Context) (Document, error) {
	var doc Document
	var err error

	if doc.Entities, err = c.fetchTerms(ctx, "entities"); err != nil {
		return Document{}, err
	}
	if doc.SpecimenCategories, err = c.fetchTerms(ctx, "specimen_categories"); err != nil {
		return Document{}, err
	}
	if doc.OrganTypes, err = c.fetchValueset(ctx, "organ_types"); err != nil {
		return Document{}, err
	}
	if doc.DatasetTypes, err = c.fetchTerms(ctx, "dataset_types"); err != nil {
		return Document{}, err
	}
	if doc.SourceTypes, err = c.fetchTerms(ctx, "source_types"); err != nil {
		return Document{}, err
	}
	if doc.CreationActions, err = c.fetchTerms(ctx, "creation_actions"); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (c *Client) fetchTerms(ctx context.Context, name string) ([]string, error) {
	terms, err := c.fetchValueset(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		out = append(out, t.Term)
	}
	return out, nil
}

func (c *Client) fetchValueset(ctx context.Context, name string) ([]Term, error) {
	cacheKey := "ontology:valueset:" + name
	var cached []Term
	if c.cache.Get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	u := fmt.Sprintf("%s/valueset?name=%s", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ontology: build request for %s: %w", name, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ontology: fetch valueset %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ontology: valueset %s returned status %d", name, resp.StatusCode)
	}

	var terms []Term
	if err := json.NewDecoder(resp.Body).Decode(&terms); err != nil {
		return nil, fmt.Errorf("ontology: decode valueset %s: %w", name, err)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("ontology: valueset %s is empty", name)
	}

	c.cache.Set(ctx, cacheKey, terms)
	return terms, nil
}
