package geo

import "sort"

// entry is one bundled gazetteer row. Coordinates follow common float
// deployment areas rather than city centers, so proximity filters catch
// open-ocean profiles.
type entry struct {
	Name string
	Lat  float64
	Lon  float64
}

var gazetteer = map[string]entry{
	"mumbai":           {"Mumbai", 19.0760, 72.8777},
	"pacific":          {"Pacific Ocean", 15.0, -150.0},
	"atlantic":         {"Atlantic Ocean", 25.0, -40.0},
	"indian ocean":     {"Indian Ocean", -10.0, 90.0},
	"bay of bengal":    {"Bay of Bengal", 12.0, 88.0},
	"arabian sea":      {"Arabian Sea", 14.0, 65.0},
	"gulf of mexico":   {"Gulf of Mexico", 26.0, -90.0},
	"mediterranean":    {"Mediterranean Sea", 35.0, 20.0},
	"north sea":        {"North Sea", 55.0, 3.0},
	"california":       {"California Coast", 35.0, -125.0},
	"alaska":           {"Alaska", 58.0, -150.0},
	"japan":            {"Japan", 35.0, 140.0},
	"australia":        {"Australia", -20.0, 130.0},
	"antarctica":       {"Antarctica", -65.0, 0.0},
	"greenland":        {"Greenland", 70.0, -40.0},
	"hawaii":           {"Hawaii", 21.0, -157.0},
	"tropical pacific": {"Tropical Pacific", 5.0, -170.0},
	"north atlantic":   {"North Atlantic", 45.0, -35.0},
	"south atlantic":   {"South Atlantic", -25.0, -15.0},
	"tropical indian":  {"Tropical Indian Ocean", -5.0, 80.0},
	"south pacific":    {"South Pacific", -25.0, -170.0},
}

// gazetteerKeys holds the known names longest first, so "tropical pacific"
// wins over "pacific" when both occur in an utterance.
var gazetteerKeys = func() []string {
	keys := make([]string, 0, len(gazetteer))
	for k := range gazetteer {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()
