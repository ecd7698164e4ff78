package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnexpectedStructure is returned when a listing page has no bug table.
var ErrUnexpectedStructure = errors.New("parser: unexpected page structure")

// ExtractAssetLinks collects hrefs from td.assets cells verbatim, followed by
// hrefs from td.repro cells prefixed with origin. Document order is kept
// within each group.
func ExtractAssetLinks(doc *goquery.Document, origin string) []string {
	if doc == nil {
		return nil
	}
	origin = strings.TrimRight(origin, "/")

	var links []string
	doc.Find("td.assets").Each(func(_ int, td *goquery.Selection) {
		td.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			links = append(links, href)
		})
	})
	doc.Find("td.repro").Each(func(_ int, td *goquery.Selection) {
		td.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			links = append(links, origin+href)
		})
	})
	return links
}

// ExtractBugLinks reads the bug table of a listing page. The table is the
// first tbody holding a td.title cell; a release with no open bugs still
// renders the table header, so a list_table body or a header-only body is
// accepted as an empty table. Rows without a title cell are skipped.
// The returned slices are parallel: summaries[i] describes links[i].
func ExtractBugLinks(doc *goquery.Document, origin string) ([]string, []string, error) {
	if doc == nil {
		return nil, nil, fmt.Errorf("%w: nil document", ErrUnexpectedStructure)
	}
	table := bugTable(doc)
	if table.Length() == 0 {
		return nil, nil, fmt.Errorf("%w: no bug table (found %d table bodies)",
			ErrUnexpectedStructure, doc.Find("tbody").Length())
	}
	origin = strings.TrimRight(origin, "/")

	summaries := []string{}
	links := []string{}
	table.ChildrenFiltered("tr").Each(func(_ int, row *goquery.Selection) {
		title := row.ChildrenFiltered("td.title").First()
		if title.Length() == 0 {
			return
		}
		href, ok := title.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		summaries = append(summaries, rowSummary(row))
		links = append(links, origin+href)
	})
	return summaries, links, nil
}

func bugTable(doc *goquery.Document) *goquery.Selection {
	bodies := doc.Find("tbody")
	if table := bodies.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("td.title").Length() > 0
	}).First(); table.Length() > 0 {
		return table
	}
	if table := doc.Find("table.list_table > tbody").First(); table.Length() > 0 {
		return table
	}
	return bodies.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ChildrenFiltered("tr").First().ChildrenFiltered("th").Length() > 0
	}).First()
}

// PageTitle returns the trimmed document title.
func PageTitle(doc *goquery.Document) (string, bool) {
	if doc == nil {
		return "", false
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	return title, title != ""
}

func rowSummary(row *goquery.Selection) string {
	cells := row.ChildrenFiltered("td").Map(func(_ int, td *goquery.Selection) string {
		return td.Text()
	})
	return strings.ReplaceAll(strings.Join(cells, " "), "\n", " ")
}
