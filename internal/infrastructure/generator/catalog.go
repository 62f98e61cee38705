package generator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"AsmrPipeline/internal/domain"
	"AsmrPipeline/internal/ports"
)

// ThemeHistory supplies the recently used themes for rotation.
type ThemeHistory interface {
	RecentThemes(ctx context.Context, limit int) ([]string, error)
}

// Theme is one catalog entry with its visual appeal score.
type Theme struct {
	Name   string
	Appeal int
}

// CatalogGenerator picks the next content theme from a catalog page,
// excluding themes used in the most recent runs, and produces the brief.
type CatalogGenerator struct {
	client     *http.Client
	catalogURL string
	history    ThemeHistory
	maxRecent  int
	logger     *slog.Logger
}

var _ ports.ContentGenerator = (*CatalogGenerator)(nil)

// fallbackCatalog is used when no catalog page is configured or reachable.
var fallbackCatalog = []Theme{
	{Name: "Strawberry", Appeal: 9},
	{Name: "Watermelon", Appeal: 9},
	{Name: "Apple", Appeal: 8},
	{Name: "Mango", Appeal: 8},
	{Name: "Kiwi", Appeal: 7},
	{Name: "Peach", Appeal: 7},
	{Name: "Orange", Appeal: 6},
	{Name: "Lemon", Appeal: 5},
}

// NewCatalogGenerator wires an HTTP client and the run-history source.
func NewCatalogGenerator(client *http.Client, catalogURL string, history ThemeHistory, maxRecent int, logger *slog.Logger) *CatalogGenerator {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogGenerator{
		client:     client,
		catalogURL: catalogURL,
		history:    history,
		maxRecent:  maxRecent,
		logger:     logger,
	}
}

// Generate selects the highest-appeal theme not used recently and builds the
// brief for this run.
func (g *CatalogGenerator) Generate(ctx context.Context) (domain.Brief, error) {
	catalog := g.loadCatalog(ctx)
	if len(catalog) == 0 {
		return domain.Brief{}, domain.Permanentf("theme catalog is empty")
	}

	var recent []string
	if g.history != nil && g.maxRecent > 0 {
		var err error
		recent, err = g.history.RecentThemes(ctx, g.maxRecent)
		if err != nil {
			g.logger.Warn("recent themes unavailable, skipping rotation", "error", err)
		}
	}

	theme := selectTheme(catalog, recent)
	now := time.Now().UTC()

	return domain.Brief{
		Theme:       theme.Name,
		ScriptText:  buildScript(theme.Name),
		RequestedAt: now,
	}, nil
}

// loadCatalog fetches the configured catalog page, falling back to the
// built-in catalog when the page is unset or unusable.
func (g *CatalogGenerator) loadCatalog(ctx context.Context) []Theme {
	if g.catalogURL == "" {
		return fallbackCatalog
	}

	catalog, err := g.fetchCatalog(ctx)
	if err != nil {
		g.logger.Warn("catalog fetch failed, using built-in catalog", "url", g.catalogURL, "error", err)
		return fallbackCatalog
	}
	if len(catalog) == 0 {
		g.logger.Warn("catalog page has no themes, using built-in catalog", "url", g.catalogURL)
		return fallbackCatalog
	}
	return catalog
}

func (g *CatalogGenerator) fetchCatalog(ctx context.Context) ([]Theme, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.catalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "AsmrPipeline/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	return parseCatalog(doc), nil
}

// parseCatalog extracts theme entries from the catalog document. Each entry
// is an element with class "theme" carrying the name in a ".name" child (or
// its own text) and the appeal score in a data-appeal attribute.
func parseCatalog(doc *goquery.Document) []Theme {
	var (
		catalog []Theme
		seen    = map[string]struct{}{}
	)

	doc.Find(".theme").Each(func(_ int, sel *goquery.Selection) {
		name := strings.TrimSpace(sel.Find(".name").First().Text())
		if name == "" {
			name = strings.TrimSpace(sel.Text())
		}
		if name == "" {
			return
		}

		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}

		appeal := 0
		if raw, ok := sel.Attr("data-appeal"); ok {
			if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				appeal = parsed
			}
		}

		catalog = append(catalog, Theme{Name: name, Appeal: appeal})
	})

	return catalog
}

// selectTheme returns the highest-appeal theme outside the recent set; when
// every theme was used recently, the whole catalog is considered again.
func selectTheme(catalog []Theme, recent []string) Theme {
	used := make(map[string]struct{}, len(recent))
	for _, name := range recent {
		used[normalizeTheme(name)] = struct{}{}
	}

	candidates := make([]Theme, 0, len(catalog))
	for _, theme := range catalog {
		if _, ok := used[normalizeTheme(theme.Name)]; !ok {
			candidates = append(candidates, theme)
		}
	}
	if len(candidates) == 0 {
		candidates = catalog
	}

	best := candidates[0]
	for _, theme := range candidates[1:] {
		if theme.Appeal > best.Appeal {
			best = theme
		}
	}
	return best
}

// normalizeTheme strips the presentation prefix historical records carry.
func normalizeTheme(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "Glass ")
	return strings.ToLower(name)
}

func buildScript(theme string) string {
	lower := strings.ToLower(theme)
	return fmt.Sprintf(
		"A glass %s rests on a wooden cutting board. A sharp knife presses into the surface. "+
			"Each slow cut rings with a crisp glass resonance. Slices fall away one by one "+
			"until the %s lies open. Gentle tapping on the remaining pieces fades out the scene.",
		lower, lower)
}
