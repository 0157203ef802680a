package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorett/groundlink/internal/config"
)

const listingHTML = `
<!DOCTYPE html>
<html>
<body>
<p>
	<a href="logstation.html?stid=Moscow_RU">Moscow_RU</a>
	<a href="logstation.html?stid=Anadyr_RU">Anadyr_RU</a>
</p>
<table>
<tr>
	<td><b>2026-01-27</b></td>
	<td>
		<a href="log_view/Moscow_RU__20260127_031121_METEOR-M2_rec.log">view</a>
		<a href="log_get/Moscow_RU__20260127_031121_METEOR-M2_rec.log">get</a>
		<a href="log_view/Moscow_RU__20260127_054512_NOAA-19_rec.log">view</a>
		<a href="log_get/Moscow_RU__20260127_054512_NOAA-19_rec.log">get</a>
	</td>
	<td>
		<a href="log_view/Anadyr_RU__20260127_101502_METEOR-M2_rec.log">view</a>
		<a href="log_get/Anadyr_RU__20260127_101502_METEOR-M2_rec.log">get</a>
	</td>
</tr>
<tr>
	<td><b>2026-01-26</b></td>
	<td>
		<a href="log_view/Moscow_RU__20260126_031002_METEOR-M2_rec.log">view</a>
		<a href="log_get/Moscow_RU__20260126_031002_METEOR-M2_rec.log">get</a>
	</td>
	<td></td>
</tr>
</table>
</body>
</html>`

func day(value string) time.Time {
	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseListingStationsAndPasses(t *testing.T) {
	listing, err := ParseListing(listingHTML, "http://portal.test/eus/logs.html", day("2026-01-27"))
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}

	stations := listing.Stations()
	if len(stations) != 2 {
		t.Fatalf("Expected 2 stations, got %d: %v", len(stations), stations)
	}
	if stations[0] != "Moscow_RU" || stations[1] != "Anadyr_RU" {
		t.Errorf("Stations out of page order: %v", stations)
	}

	if listing.Total() != 3 {
		t.Errorf("Expected 3 passes for 2026-01-27, got %d", listing.Total())
	}

	moscow := listing.Passes("Moscow_RU")
	if len(moscow) != 2 {
		t.Fatalf("Expected 2 Moscow passes, got %d", len(moscow))
	}
	wantGet := "http://portal.test/eus/log_get/Moscow_RU__20260127_031121_METEOR-M2_rec.log"
	if moscow[0].GetURL != wantGet {
		t.Errorf("Expected resolved get URL %s, got %s", wantGet, moscow[0].GetURL)
	}
	wantView := "http://portal.test/eus/log_view/Moscow_RU__20260127_031121_METEOR-M2_rec.log"
	if moscow[0].ViewURL != wantView {
		t.Errorf("Expected resolved view URL %s, got %s", wantView, moscow[0].ViewURL)
	}
}

func TestParseListingFiltersOtherDays(t *testing.T) {
	listing, err := ParseListing(listingHTML, "http://portal.test/eus/logs.html", day("2026-01-26"))
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}
	if listing.Total() != 1 {
		t.Errorf("Expected 1 pass for 2026-01-26, got %d", listing.Total())
	}
	if len(listing.Passes("Anadyr_RU")) != 0 {
		t.Errorf("Anadyr_RU should have no passes on 2026-01-26")
	}
}

func TestParseListingIgnoresOneSidedLinks(t *testing.T) {
	html := `
<a href="logstation.html?stid=Moscow_RU">Moscow_RU</a>
<table>
<tr>
	<td><b>2026-01-27</b></td>
	<td>
		<a href="log_get/Moscow_RU__20260127_031121_METEOR-M2_rec.log">get without view</a>
		<a href="log_view/Moscow_RU__20260127_054512_NOAA-19_rec.log">view without get</a>
	</td>
</tr>
</table>`
	listing, err := ParseListing(html, "http://portal.test/eus/logs.html", day("2026-01-27"))
	if err != nil {
		t.Fatalf("Failed to parse listing: %v", err)
	}
	if listing.Total() != 0 {
		t.Errorf("Expected no passes from one-sided link pairs, got %d", listing.Total())
	}
	// The station itself is still discovered.
	if len(listing.Stations()) != 1 {
		t.Errorf("Expected 1 station, got %v", listing.Stations())
	}
}

func TestParseListingIntoMergesAndDeduplicates(t *testing.T) {
	listing := NewListing()
	if err := ParseListingInto(listing, listingHTML, "http://portal.test/eus/logs.html", day("2026-01-27")); err != nil {
		t.Fatalf("Failed to parse first page: %v", err)
	}
	// The same page again: every pass is a duplicate.
	if err := ParseListingInto(listing, listingHTML, "http://portal.test/eus/logs.html", day("2026-01-27")); err != nil {
		t.Fatalf("Failed to parse second page: %v", err)
	}

	if listing.Total() != 3 {
		t.Errorf("Expected 3 unique passes after merging duplicate pages, got %d", listing.Total())
	}
	if len(listing.Stations()) != 2 {
		t.Errorf("Expected 2 unique stations after merge, got %v", listing.Stations())
	}
}

func TestFetchListingMergesConfiguredPages(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		w.Header().Set("Content-Type", "text/html")
		if r.URL.Path == "/eus/logs_list.html" {
			io.WriteString(w, listingHTML)
			return
		}
		// The live page carries one extra station.
		fmt.Fprint(w, `
<a href="logstation.html?stid=Murmansk_RU">Murmansk_RU</a>
<table>
<tr>
	<td><b>2026-01-27</b></td>
	<td>
		<a href="log_view/Murmansk_RU__20260127_120000_METEOR-M2_rec.log">view</a>
		<a href="log_get/Murmansk_RU__20260127_120000_METEOR-M2_rec.log">get</a>
	</td>
</tr>
</table>`)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Portal.ScheduledURL = server.URL + "/eus/logs_list.html"
	cfg.Portal.LiveURL = server.URL + "/eus/logs.html"

	scraper := NewPortalScraper(cfg)
	listing, err := scraper.FetchListing(day("2026-01-27"))
	if err != nil {
		t.Fatalf("Failed to fetch listing: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("Expected 2 page fetches, got %d: %v", len(requests), requests)
	}
	for _, reqURL := range requests {
		if !strings.Contains(reqURL, "t0=2026-01-27") || !strings.Contains(reqURL, "t1=2026-01-28") {
			t.Errorf("Expected t0/t1 date window in request, got %s", reqURL)
		}
	}

	stations := listing.Stations()
	if len(stations) != 3 {
		t.Fatalf("Expected 3 stations across both pages, got %v", stations)
	}
	if listing.Total() != 4 {
		t.Errorf("Expected 4 passes across both pages, got %d", listing.Total())
	}
}
