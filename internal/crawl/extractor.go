package crawl

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Landmark selectors observed on the remote site. Extraction keys on these
// rather than exact DOM paths so minor markup reordering does not break it.
const (
	landmarkHeader  = "div.song_title"
	landmarkRanking = "ul.list"
)

var (
	songIDPattern    = regexp.MustCompile(`ID:c?(\d+)`)
	rankLabelPattern = regexp.MustCompile(`top-(\d+)`)
	playerUIDPattern = regexp.MustCompile(`/accounts/user/(\d+)`)
	chartHrefPattern = regexp.MustCompile(`/chart/(\d+)`)
	modeClassPattern = regexp.MustCompile(`g_mode[_-]?(\d+)`)
	modClassPattern  = regexp.MustCompile(`g_mod\w*`)
)

// Extract parses a raw page with the strategy for the resource's kind. A
// missing header landmark yields *StructureMismatch; a parseable page with no
// data rows yields a valid empty RecordSet.
func Extract(page RawPage, rid ResourceID) (RecordSet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return RecordSet{}, &StructureMismatch{Kind: rid.Kind, Landmark: "document"}
	}
	switch rid.Kind {
	case KindSong:
		return extractSongPage(doc, rid)
	default:
		return extractChartPage(doc, rid)
	}
}

func extractChartPage(doc *goquery.Document, rid ResourceID) (RecordSet, error) {
	header := doc.Find(landmarkHeader).First()
	if header.Length() == 0 {
		return RecordSet{}, &StructureMismatch{Kind: rid.Kind, Landmark: landmarkHeader}
	}

	right := header.Find("div.right").First()
	info := &ChartInfo{
		ChartID:  rid.ID,
		Title:    text(right.Find("h3.textfix").First()),
		AltTitle: text(right.Find("h2.textfix.title").First()),
	}
	if m := songIDPattern.FindStringSubmatch(right.Find("h2.sub").Text()); m != nil {
		info.SongID, _ = strconv.ParseInt(m[1], 10, 64)
	}

	judge := "All"
	if sel := text(doc.Find("select#g_judge option[selected]").First()); sel != "" {
		judge = sel
	}

	rs := RecordSet{Resource: rid, Chart: info}
	doc.Find(landmarkRanking + " > li").Each(func(i int, row *goquery.Selection) {
		if entry, ok := parseRankingRow(row, i, judge); ok {
			rs.Rankings = append(rs.Rankings, entry)
		}
	})
	return rs, nil
}

func parseRankingRow(row *goquery.Selection, position int, judge string) (RankingRow, bool) {
	nameLink := row.Find("span.name a").First()
	name := text(nameLink)
	if name == "" {
		return RankingRow{}, false
	}

	entry := RankingRow{
		Rank:       position + 1,
		PlayerName: name,
		AvatarURL:  row.Find("span.rank img").AttrOr("src", ""),
		Judge:      judge,
		AchievedAt: text(row.Find("span.time").First()),
	}
	if m := rankLabelPattern.FindStringSubmatch(row.Find("i.label").AttrOr("class", "")); m != nil {
		if rank, err := strconv.Atoi(m[1]); err == nil {
			entry.Rank = rank
		}
	}
	if m := playerUIDPattern.FindStringSubmatch(nameLink.AttrOr("href", "")); m != nil {
		entry.PlayerUID, _ = strconv.ParseInt(m[1], 10, 64)
	}
	entry.Score, _ = strconv.ParseInt(text(row.Find("span.score").First()), 10, 64)
	entry.Combo, _ = strconv.Atoi(text(row.Find("span.combo").First()))
	acc := strings.TrimSuffix(text(row.Find("span.acc em").First()), "%")
	entry.Accuracy, _ = strconv.ParseFloat(acc, 64)

	row.Find("span.mod i").Each(func(_ int, icon *goquery.Selection) {
		if mod := modClassPattern.FindString(icon.AttrOr("class", "")); mod != "" {
			entry.Mods = append(entry.Mods, mod)
		}
	})

	// The row title carries hit counts as perfect/good/miss/unknown.
	if title := row.AttrOr("title", ""); strings.Contains(title, "/") {
		parts := strings.Split(title, "/")
		counts := []*int{&entry.HitPerfect, &entry.HitGood, &entry.HitMiss, &entry.HitUnknown}
		for i, dst := range counts {
			if i < len(parts) {
				*dst, _ = strconv.Atoi(strings.TrimSpace(parts[i]))
			}
		}
	}
	return entry, true
}

func extractSongPage(doc *goquery.Document, rid ResourceID) (RecordSet, error) {
	header := doc.Find(landmarkHeader).First()
	if header.Length() == 0 {
		return RecordSet{}, &StructureMismatch{Kind: rid.Kind, Landmark: landmarkHeader}
	}

	right := header.Find("div.right").First()
	info := &SongInfo{
		SongID:   rid.ID,
		Title:    text(right.Find("h3.textfix").First()),
		CoverURL: header.Find("img").First().AttrOr("src", ""),
	}
	// The sub heading carries the artist, a dash and "ID:sNNN"; strip the
	// identifier tail. The site uses both ASCII and typographic dashes.
	sub := text(right.Find("h2.sub").First())
	if idx := strings.Index(sub, "ID:"); idx >= 0 {
		sub = strings.TrimSpace(strings.TrimRight(sub[:idx], "-— "))
	}
	info.Artist = sub

	rs := RecordSet{Resource: rid, Song: info}
	doc.Find(landmarkRanking + " > li").Each(func(_ int, row *goquery.Selection) {
		if chart, ok := parseSongChartRow(row); ok {
			rs.Charts = append(rs.Charts, chart)
		}
	})
	return rs, nil
}

func parseSongChartRow(row *goquery.Selection) (SongChart, bool) {
	href := row.Find("a").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return chartHrefPattern.MatchString(a.AttrOr("href", ""))
	}).First().AttrOr("href", "")
	m := chartHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return SongChart{}, false
	}
	cid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return SongChart{}, false
	}

	chart := SongChart{
		ChartID: cid,
		Mode:    -1,
		Level:   text(row.Find("span.level").First()),
		Creator: text(row.Find("span.creator a").First()),
	}
	row.Find("i").EachWithBreak(func(_ int, icon *goquery.Selection) bool {
		if mm := modeClassPattern.FindStringSubmatch(icon.AttrOr("class", "")); mm != nil {
			chart.Mode, _ = strconv.Atoi(mm[1])
			return false
		}
		return true
	})
	if status, ok := ParseChartStatus(text(row.Find("span.state").First())); ok {
		chart.Status = status
	}
	return chart, true
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}
