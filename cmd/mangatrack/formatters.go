package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pevans/mangatrack"
	"github.com/pevans/mangatrack/mangasource"
	"github.com/pevans/mangatrack/sites"
)

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPassReport prints a pass summary followed by one block per site
func printPassReport(w io.Writer, report *mangatrack.PassReport) {
	fmt.Fprintf(w, "Pass %s finished in %s\n",
		report.PassID,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	fmt.Fprintf(w, "Sites: %d ok, %d partial, %d failed | New chapters: %d\n\n",
		report.Count(mangatrack.SiteOK),
		report.Count(mangatrack.SitePartial),
		report.Count(mangatrack.SiteFailed),
		report.TotalNewChapters,
	)

	if len(report.Sites) == 0 {
		fmt.Fprintln(w, "No sites configured.")
		return
	}

	for _, site := range report.Sites {
		fmt.Fprintf(w, "%s %s (%d pages, %d cards, %d matched)\n",
			statusMarker(site.Status), site.SiteName,
			site.PagesFetched, site.CardsSeen, site.CardsMatched,
		)
		if site.Error != "" {
			fmt.Fprintf(w, "   %s: %s\n", site.ErrorKind, truncate(site.Error, 120))
		}
		if len(site.AmbiguousTitles) > 0 {
			fmt.Fprintf(w, "   Ambiguous: %s\n", strings.Join(site.AmbiguousTitles, ", "))
		}
		for _, u := range site.Updates {
			if len(u.Chapters) == 0 {
				continue
			}
			fmt.Fprintf(w, "   + %s: %s\n", u.MangaName, strings.Join(u.Chapters, ", "))
		}
	}
}

func statusMarker(status mangatrack.SiteStatus) string {
	switch status {
	case mangatrack.SiteOK:
		return "✓"
	case mangatrack.SitePartial:
		return "~"
	default:
		return "✗"
	}
}

// printSitesTable prints sites with their last-seen card
func printSitesTable(w io.Writer, list []sites.SiteWithLastSeen) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sites configured.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBASE URL\tLAST SEEN")

	for _, s := range list {
		lastSeen := "Never"
		if s.LastSeenManga != nil {
			lastSeen = *s.LastSeenManga
			if s.LastSeenChapter != nil {
				lastSeen += " / " + *s.LastSeenChapter
			}
			if s.LastSeenAt != nil {
				lastSeen += " (" + s.LastSeenAt.Local().Format("2006-01-02 15:04") + ")"
			}
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.SiteID, truncate(s.SiteName, 30), truncate(s.BaseURL, 50), lastSeen)
	}

	return tw.Flush()
}

// printMangaTable prints one row per (manga, site); untracked manga get a
// single row with dashes
func printMangaTable(w io.Writer, mangas []mangasource.MangaDetails) error {
	if len(mangas) == 0 {
		fmt.Fprintln(w, "No manga registered.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tMANGA\tSITE\tLAST CHAPTER\tNEW")

	for _, m := range mangas {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			m.MangaID,
			truncate(m.MangaName, 40),
			deref(m.SiteName),
			deref(m.LastChapterScraped),
			newChapters(m.NewlyFoundChapters),
		)
	}

	return tw.Flush()
}

// newChapters renders the stored JSON list as a comma separated string
func newChapters(raw *string) string {
	if raw == nil {
		return "-"
	}

	var list []string
	if err := json.Unmarshal([]byte(*raw), &list); err != nil || len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ", ")
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// truncate shortens s to max runes, marking the cut with "..."
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
