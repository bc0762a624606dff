// Package crawl implements the live page-crawling pipeline: rate limiting,
// fetching, extraction, caching and request collapsing for remote chart and
// song pages.
package crawl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PageKind identifies which extraction strategy applies to a remote page.
type PageKind int

const (
	// KindChart is a chart detail page carrying the ranking leaderboard.
	KindChart PageKind = iota
	// KindSong is a song detail page listing its charts.
	KindSong
)

func (k PageKind) String() string {
	switch k {
	case KindChart:
		return "chart"
	case KindSong:
		return "song"
	default:
		return "unknown"
	}
}

// ResourceID addresses one crawlable remote page.
type ResourceID struct {
	Kind PageKind
	ID   int64
}

// ParseResourceID parses identifiers of the form "chart:12345" or "song:678".
func ParseResourceID(s string) (ResourceID, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok {
		return ResourceID{}, fmt.Errorf("malformed resource id %q", s)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return ResourceID{}, fmt.Errorf("malformed resource id %q", s)
	}
	switch kind {
	case "chart":
		return ResourceID{Kind: KindChart, ID: id}, nil
	case "song":
		return ResourceID{Kind: KindSong, ID: id}, nil
	default:
		return ResourceID{}, fmt.Errorf("unknown resource kind %q", kind)
	}
}

func (r ResourceID) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// MarshalJSON renders the identifier in its string form.
func (r ResourceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// PageURL returns the remote URL for the resource under the given base.
func (r ResourceID) PageURL(baseURL string) string {
	return fmt.Sprintf("%s/%s/%d", strings.TrimRight(baseURL, "/"), r.Kind, r.ID)
}

// RawPage is the unparsed result of a single successful fetch.
type RawPage struct {
	URL        string
	StatusCode int
	Body       []byte
}

// RankingRow is one leaderboard entry observed on a chart page.
type RankingRow struct {
	Rank       int      `json:"rank"`
	PlayerUID  int64    `json:"player_uid"`
	PlayerName string   `json:"player_name"`
	AvatarURL  string   `json:"avatar_url,omitempty"`
	Score      int64    `json:"score"`
	Combo      int      `json:"combo"`
	Accuracy   float64  `json:"accuracy"`
	Mods       []string `json:"mods,omitempty"`
	Judge      string   `json:"judge"`
	AchievedAt string   `json:"achieved_at,omitempty"`
	HitPerfect int      `json:"hit_perfect"`
	HitGood    int      `json:"hit_good"`
	HitMiss    int      `json:"hit_miss"`
	HitUnknown int      `json:"hit_unknown"`
}

// ChartInfo is the chart-page header context extracted alongside rankings.
type ChartInfo struct {
	ChartID  int64  `json:"cid"`
	SongID   int64  `json:"sid,omitempty"`
	Title    string `json:"title"`
	AltTitle string `json:"alt_title,omitempty"`
}

// SongInfo is the song-page header.
type SongInfo struct {
	SongID   int64  `json:"sid"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"cover_url,omitempty"`
}

// SongChart is one chart listed on a song page.
type SongChart struct {
	ChartID int64  `json:"cid"`
	Mode    int    `json:"mode"`
	Status  int    `json:"status"`
	Level   string `json:"level,omitempty"`
	Creator string `json:"creator,omitempty"`
}

// RecordSet is the typed result of extracting one remote page. A set with no
// ranking rows or charts is a valid outcome (unranked chart, empty song).
type RecordSet struct {
	Resource   ResourceID   `json:"resource"`
	Chart      *ChartInfo   `json:"chart,omitempty"`
	Song       *SongInfo    `json:"song,omitempty"`
	Rankings   []RankingRow `json:"rankings,omitempty"`
	Charts     []SongChart  `json:"charts,omitempty"`
	ObservedAt time.Time    `json:"observed_at"`
}

// Empty reports whether extraction produced no data rows.
func (rs RecordSet) Empty() bool {
	return len(rs.Rankings) == 0 && len(rs.Charts) == 0
}

// Chart status codes used on the remote site.
const (
	StatusAlpha  = 0
	StatusBeta   = 1
	StatusStable = 2
)

var modeNames = []string{"Key", "Step", "DJ", "Catch", "Pad", "Taiko", "Ring", "Slide", "Live", "Cube"}

// ModeName maps a numeric play mode to its display name.
func ModeName(mode int) string {
	if mode < 0 || mode >= len(modeNames) {
		return "Unknown"
	}
	return modeNames[mode]
}

// ParseChartStatus maps a status label from page markup to its code.
func ParseChartStatus(label string) (int, bool) {
	switch strings.TrimSpace(label) {
	case "Stable":
		return StatusStable, true
	case "Beta":
		return StatusBeta, true
	case "Alpha":
		return StatusAlpha, true
	default:
		return 0, false
	}
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
