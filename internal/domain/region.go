package domain

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var regionsYAML []byte

type boundingBox struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

type regionTable struct {
	Include []string    `yaml:"include"`
	Exclude []string    `yaml:"exclude"`
	Box     boundingBox `yaml:"bounding_box"`
}

var regions = mustLoadRegionTable()

func mustLoadRegionTable() regionTable {
	var t regionTable
	if err := yaml.Unmarshal(regionsYAML, &t); err != nil {
		panic(fmt.Sprintf("parse embedded region table: %v", err))
	}
	for i, s := range t.Include {
		t.Include[i] = strings.ToLower(s)
	}
	for i, s := range t.Exclude {
		t.Exclude[i] = strings.ToLower(s)
	}
	return t
}

// ClassifyRegion decides whether a location belongs to the priority region.
// It is a pure function of the location: callers recompute it rather than
// trusting any tag carried by upstream payloads. Ambiguous input (no text,
// no coordinates) classifies as RegionOther, never drops the event.
func ClassifyRegion(loc Location) RegionTag {
	if loc.Geo != nil && inBox(regions.Box, loc.Geo.Lat, loc.Geo.Lon) {
		return RegionPriority
	}
	if matchesInclude(loc.FreeText) {
		return RegionPriority
	}
	return RegionOther
}

// matchesInclude reports whether the text contains an inclusion term that is
// not merely a substring of an excluded name. Excluded spans are blanked out
// first so "Indiana, United States" cannot match through "india".
func matchesInclude(text string) bool {
	text = strings.ToLower(text)
	if text == "" {
		return false
	}
	for _, ex := range regions.Exclude {
		for {
			i := strings.Index(text, ex)
			if i < 0 {
				break
			}
			text = text[:i] + strings.Repeat(" ", len(ex)) + text[i+len(ex):]
		}
	}
	for _, in := range regions.Include {
		if strings.Contains(text, in) {
			return true
		}
	}
	return false
}

func inBox(b boundingBox, lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
