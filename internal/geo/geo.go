// Package geo resolves place references in utterances to coordinates and
// renders proximity filters over them.
package geo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"argochat/internal/logger"
	"argochat/pkg/geocode"
)

// ErrNotFound means the phrase could not be resolved to a usable point.
// Callers proceed without a geographic filter and flag the omission.
var ErrNotFound = errors.New("location not found")

// Source records which lookup produced a Reference.
type Source string

const (
	SourceExact    Source = "exact-match"
	SourceFallback Source = "fallback-lookup"
)

// Reference is a resolved geographic point plus the proximity radius to
// filter with.
type Reference struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Source   Source  `json:"source"`
	RadiusKm float64 `json:"radius_km"`
}

// Geocoder is the external fallback lookup.
type Geocoder interface {
	Search(ctx context.Context, name string, limit int) ([]geocode.Candidate, error)
}

// Resolver maps location phrases to References: bundled gazetteer first,
// external geocoder second.
type Resolver struct {
	geocoder      Geocoder
	radiusKm      float64
	minConfidence float64
	timeout       time.Duration
}

// NewResolver builds a Resolver. geocoder may be nil to disable the
// fallback entirely.
func NewResolver(geocoder Geocoder, radiusKm, minConfidence float64, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		geocoder:      geocoder,
		radiusKm:      radiusKm,
		minConfidence: minConfidence,
		timeout:       timeout,
	}
}

// Resolve turns a location phrase into a Reference. The fallback lookup is
// accepted only when exactly one candidate clears the confidence threshold;
// anything ambiguous, empty, failed, or off the globe is ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, phrase string) (*Reference, error) {
	name := strings.ToLower(strings.TrimSpace(phrase))
	if name == "" {
		return nil, ErrNotFound
	}

	if e, ok := gazetteer[name]; ok {
		return r.reference(e.Name, e.Lat, e.Lon, SourceExact)
	}

	if r.geocoder == nil {
		return nil, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// ask for two so a second plausible candidate makes ambiguity visible
	candidates, err := r.geocoder.Search(ctx, phrase, 2)
	if err != nil {
		logger.L.Warn("geocode fallback failed", "phrase", phrase, "error", err)
		return nil, ErrNotFound
	}

	var accepted []geocode.Candidate
	for _, c := range candidates {
		if c.Confidence >= r.minConfidence {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) != 1 {
		return nil, ErrNotFound
	}
	return r.reference(accepted[0].DisplayName, accepted[0].Lat, accepted[0].Lon, SourceFallback)
}

func (r *Resolver) reference(name string, lat, lon float64, src Source) (*Reference, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, ErrNotFound
	}
	return &Reference{Name: name, Lat: lat, Lon: lon, Source: src, RadiusKm: r.radiusKm}, nil
}

// placePattern captures the words following a proximity preposition.
var placePattern = regexp.MustCompile(`\b(?:near|around|close to|off(?: the coast of)?)\s+(?:the\s+)?([a-z][a-z' -]{1,40})`)

// fillerWords are trailing words that belong to the request, not the place.
var fillerWords = map[string]bool{
	"please": true, "now": true, "today": true, "and": true, "the": true,
	"data": true, "measurements": true, "profiles": true, "floats": true,
	"temperature": true, "salinity": true, "pressure": true, "depth": true,
	"show": true, "me": true, "with": true, "for": true,
}

// ExtractPhrase pulls a location phrase out of an utterance: a bundled
// gazetteer name anywhere in the text wins, otherwise the words after a
// proximity preposition ("near X", "around X") are taken as the phrase.
func ExtractPhrase(utterance string) (string, bool) {
	text := strings.ToLower(utterance)

	for _, key := range gazetteerKeys {
		if strings.Contains(text, key) {
			return key, true
		}
	}

	m := placePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	words := strings.Fields(m[1])
	if len(words) > 3 {
		words = words[:3]
	}
	for len(words) > 0 && fillerWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return "", false
	}
	return strings.Join(words, " "), true
}
