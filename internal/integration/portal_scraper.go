// Package integration handles external service interactions
package integration

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lorett/groundlink/internal/config"
	"github.com/lorett/groundlink/internal/entities"
)

// stationIDRe extracts the stid value from a station anchor.
var stationIDRe = regexp.MustCompile(`logstation\.html\?stid=([^&"']+)`)

// rowDateRe matches the literal date the portal prints in the first cell.
var rowDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Listing holds the stations discovered on the portal pages, in order of
// first appearance, with the deduplicated pass link pairs for each.
type Listing struct {
	order     []string
	byStation map[string][]entities.ListingEntry
	seen      map[string]map[[2]string]struct{}
}

// NewListing returns an empty listing.
func NewListing() *Listing {
	return &Listing{
		byStation: make(map[string][]entities.ListingEntry),
		seen:      make(map[string]map[[2]string]struct{}),
	}
}

// Stations returns station identifiers in first-appearance order.
func (l *Listing) Stations() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Passes returns the discovered pass entries for one station.
func (l *Listing) Passes(station string) []entities.ListingEntry {
	return l.byStation[station]
}

// Total returns the number of pass entries across all stations.
func (l *Listing) Total() int {
	n := 0
	for _, passes := range l.byStation {
		n += len(passes)
	}
	return n
}

func (l *Listing) addStation(station string) {
	if _, ok := l.seen[station]; ok {
		return
	}
	l.order = append(l.order, station)
	l.byStation[station] = nil
	l.seen[station] = make(map[[2]string]struct{})
}

func (l *Listing) addPass(station, viewURL, getURL string) {
	l.addStation(station)
	key := [2]string{viewURL, getURL}
	if _, dup := l.seen[station][key]; dup {
		return
	}
	l.seen[station][key] = struct{}{}
	l.byStation[station] = append(l.byStation[station], entities.ListingEntry{
		Station: station,
		ViewURL: viewURL,
		GetURL:  getURL,
	})
}

// PortalScraper fetches the portal listing pages and extracts pass links.
type PortalScraper struct {
	cfg    *config.Config
	client *http.Client
}

// NewPortalScraper creates a scraper over the configured portal pages.
func NewPortalScraper(cfg *config.Config) *PortalScraper {
	return &PortalScraper{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// FetchListing loads every configured listing page for one calendar day and
// merges the parsed results, preserving station order of first appearance
// across the pages.
func (ps *PortalScraper) FetchListing(day time.Time) (*Listing, error) {
	listing := NewListing()
	for _, pageURL := range ps.cfg.ListingURLs() {
		html, err := ps.loadPage(pageURL, day)
		if err != nil {
			return nil, err
		}
		if err := ParseListingInto(listing, html, pageURL, day); err != nil {
			return nil, fmt.Errorf("failed to parse listing from %s: %w", pageURL, err)
		}
	}
	log.Printf("Listing for %s: %d stations, %d passes",
		day.Format("2006-01-02"), len(listing.order), listing.Total())
	return listing, nil
}

// loadPage fetches one listing page with the portal's t0/t1 date window
// (t1 is exclusive, so it is always the next day).
func (ps *PortalScraper) loadPage(pageURL string, day time.Time) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid listing URL %s: %w", pageURL, err)
	}
	q := u.Query()
	q.Set("t0", day.Format("2006-01-02"))
	q.Set("t1", day.AddDate(0, 0, 1).Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", ps.cfg.Portal.UserAgent)

	res, err := ps.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch listing page %s: %w", pageURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code for %s: %d %s", pageURL, res.StatusCode, res.Status)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read listing page %s: %w", pageURL, err)
	}
	log.Printf("Fetched listing page %s (%d bytes)", u.String(), len(body))
	return string(body), nil
}

// ParseListing extracts stations and pass link pairs for one day from raw
// listing markup. It never fails on malformed rows: the portal publishes
// semi-structured tables and a row that does not match is simply not a pass.
func ParseListing(html, baseURL string, day time.Time) (*Listing, error) {
	listing := NewListing()
	if err := ParseListingInto(listing, html, baseURL, day); err != nil {
		return nil, err
	}
	return listing, nil
}

// ParseListingInto parses one page into an existing listing, merging by
// station. Station column positions are local to the page being parsed.
func ParseListingInto(listing *Listing, html, baseURL string, day time.Time) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("failed to parse listing markup: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}

	// Stations in page order define the column layout of the pass table.
	var pageStations []string
	pageSeen := make(map[string]bool)
	doc.Find("a[href*='logstation.html?stid=']").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		m := stationIDRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		station := m[1]
		if !pageSeen[station] {
			pageSeen[station] = true
			pageStations = append(pageStations, station)
		}
	})
	for _, station := range pageStations {
		listing.addStation(station)
	}

	wantDay := day.Format("2006-01-02")
	rowCount := 0
	passCount := 0

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		rowDate := strings.TrimSpace(cells.Eq(0).Find("b").Text())
		if !rowDateRe.MatchString(rowDate) {
			return
		}
		rowCount++
		if rowDate != wantDay {
			return
		}

		// Cell i (after the date cell) belongs to station i on this page.
		for i := 1; i < cells.Length(); i++ {
			col := i - 1
			if col >= len(pageStations) {
				break
			}
			station := pageStations[col]
			pendingView := ""
			cells.Eq(i).Find("a").Each(func(_ int, a *goquery.Selection) {
				href := a.AttrOr("href", "")
				switch {
				case strings.Contains(href, "log_view/"):
					pendingView = href
				case strings.Contains(href, "log_get/"):
					// A pass needs both links; a one-sided match is noise.
					if pendingView == "" {
						return
					}
					viewURL := resolveRef(base, pendingView)
					getURL := resolveRef(base, href)
					listing.addPass(station, viewURL, getURL)
					pendingView = ""
					passCount++
				}
			})
		}
	})

	log.Printf("Parsed listing page: %d stations, %d dated rows, %d pass links for %s",
		len(pageStations), rowCount, passCount, wantDay)
	return nil
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
