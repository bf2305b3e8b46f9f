// Package screener provides the Finviz Elite candidate-symbol client.
// All scraping lives here so it can be swapped for an API-based source
// without touching the strategy.
package screener

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var (
	symbolPattern = regexp.MustCompile(`^[A-Z](?:[A-Z0-9]{0,4})(?:[.-][A-Z0-9]{1,2})?$`)
	anchorPattern = regexp.MustCompile(`(?i)quote\.ashx\?t=`)
)

func isValidSymbol(text string) bool {
	return symbolPattern.MatchString(text)
}

// SymbolPrice is one screener row: a ticker and, when the screener view
// exposes a price column, its reference price.
type SymbolPrice struct {
	Symbol string
	Price  float64
}

// Client polls a Finviz Elite screener URL.
type Client struct {
	url        string
	cookie     string
	logger     *zap.Logger
	httpClient *http.Client
	maxTries   int
}

// NewClient builds a screener client. Cookie is the optional Finviz
// Elite auth cookie.
func NewClient(url, cookie string, logger *zap.Logger) *Client {
	return &Client{
		url:        url,
		cookie:     cookie,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxTries:   3,
	}
}

// FetchHTML downloads the screener page, retrying transient failures
// with exponential backoff.
func (c *Client) FetchHTML() (string, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	var lastErr error
	for try := 0; try < c.maxTries; try++ {
		if try > 0 {
			time.Sleep(backoffCfg.NextBackOff())
		}
		html, err := c.fetchOnce()
		if err == nil {
			return html, nil
		}
		lastErr = err
		c.logger.Debug("Screener fetch failed", zap.Int("try", try+1), zap.Error(err))
	}
	return "", fmt.Errorf("failed to fetch screener page: %w", lastErr)
}

func (c *Client) fetchOnce() (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; finviz-trader/0.1)")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("screener returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	c.logger.Debug("Fetched screener HTML", zap.Int("bytes", len(body)))
	return string(body), nil
}

// ParseSymbols extracts screener rows from the page HTML. The primary
// path reads the ticker anchors out of the screener grid; a fallback
// scans anchors inside screener tables for older HTML variants.
func (c *Client) ParseSymbols(html string) ([]SymbolPrice, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse screener HTML: %w", err)
	}

	seen := make(map[string]float64)
	var order []string

	doc.Find("table.screener_table tr.styled-row, table.screener-view-table tr.styled-row").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("a.tab-link").First()
		if anchor.Length() == 0 {
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(anchor.Text()))
		if !isValidSymbol(symbol) {
			return
		}
		if _, ok := seen[symbol]; !ok {
			order = append(order, symbol)
		}
		seen[symbol] = parseRowPrice(row)
	})

	if len(order) == 0 {
		doc.Find("table.screener-view-table a, table.screener_table a").Each(func(_ int, anchor *goquery.Selection) {
			href, _ := anchor.Attr("href")
			if !anchorPattern.MatchString(href) {
				return
			}
			symbol := strings.ToUpper(strings.TrimSpace(anchor.Text()))
			if !isValidSymbol(symbol) {
				return
			}
			if _, ok := seen[symbol]; !ok {
				order = append(order, symbol)
				seen[symbol] = 0
			}
		})
	}

	out := make([]SymbolPrice, 0, len(order))
	for _, sym := range order {
		out = append(out, SymbolPrice{Symbol: sym, Price: seen[sym]})
	}
	if len(out) == 0 {
		c.logger.Warn("Parsed 0 symbols from screener HTML")
	} else {
		c.logger.Debug("Parsed screener symbols", zap.Int("count", len(out)))
	}
	return out, nil
}

// parseRowPrice pulls the price cell out of a screener row. In the 111
// view the price is the last decimal-pointed numeric column (change
// carries a % sign, volume is comma-grouped with no decimals), so the
// scan stays tolerant of column reordering.
func parseRowPrice(row *goquery.Selection) float64 {
	price := 0.0
	row.Find("td").Each(func(i int, cell *goquery.Selection) {
		if i == 0 {
			return
		}
		text := strings.TrimSpace(cell.Text())
		if text == "" || strings.ContainsAny(text, "%") || !strings.Contains(text, ".") {
			return
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", ""), 64)
		if err != nil || v <= 0 || v > 100000 {
			return
		}
		price = v
	})
	return price
}

// GetSymbolsWithPrices fetches and parses the screener page.
func (c *Client) GetSymbolsWithPrices() ([]SymbolPrice, error) {
	html, err := c.FetchHTML()
	if err != nil {
		return nil, err
	}
	return c.ParseSymbols(html)
}

// GetSymbols returns just the ordered ticker list.
func (c *Client) GetSymbols() ([]string, error) {
	rows, err := c.GetSymbolsWithPrices()
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, r.Symbol)
	}
	return symbols, nil
}
