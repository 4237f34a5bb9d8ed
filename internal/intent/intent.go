// Package intent labels utterances with a handling category. Classification
// is a pure function of the utterance text and the intent of the previous
// turn; the same inputs always produce the same label.
package intent

import (
	"regexp"
	"strings"
)

// Intent is the handling category assigned to one utterance.
type Intent string

const (
	Conversational Intent = "conversational"
	DataQuery      Intent = "data_query"
	Visualization  Intent = "visualization"
	Map            Intent = "map"
	Summary        Intent = "summary"
	Comparison     Intent = "comparison"
	Help           Intent = "help"
)

// None marks the absence of a preceding intent (start of session).
const None Intent = ""

// rule pairs one pattern with the intent it votes for. The table below is
// ordered by tie-break priority, so the first matching rule decides:
// help > comparison > summary > map > visualization > data_query >
// conversational.
type rule struct {
	intent Intent
	re     *regexp.Regexp
}

var rules = []rule{
	{Help, regexp.MustCompile(`^(help|what can you do|what do you do)\b`)},
	{Help, regexp.MustCompile(`\b(capabilities|features|instructions|tutorial)\b`)},
	{Help, regexp.MustCompile(`\bhow (do|to|can) (i|you|we)\b`)},

	{Comparison, regexp.MustCompile(`\b(compare|comparison|versus|vs\.?)\b`)},
	{Comparison, regexp.MustCompile(`\bdifference(s)? between\b`)},
	{Comparison, regexp.MustCompile(`\b(higher|lower|greater|less|warmer|colder|more)\b.*\b(than|compared to)\b`)},

	{Summary, regexp.MustCompile(`\b(summary|summarize|summarise|overview|statistics|stats)\b`)},
	{Summary, regexp.MustCompile(`\b(overall|aggregate)\b`)},
	{Summary, regexp.MustCompile(`\b(describe|explain)\b.*\b(data|dataset|measurements)\b`)},

	{Map, regexp.MustCompile(`\b(map|mapped|mapping)\b`)},
	{Map, regexp.MustCompile(`\bwhere (are|is|were)\b`)},
	{Map, regexp.MustCompile(`\b(latitude|longitude|coordinates)\b`)},
	{Map, regexp.MustCompile(`\b(show|plot|display)\b.*\b(locations?|positions?|trajector(y|ies))\b`)},
	{Map, regexp.MustCompile(`\b(geographic|spatial)\b`)},

	{Visualization, regexp.MustCompile(`\b(plot|graph|chart|visualize|visualise|draw)\b`)},
	{Visualization, regexp.MustCompile(`\b(trend|trends|over time|time series)\b`)},
	{Visualization, regexp.MustCompile(`\b(histogram|scatter|heatmap|contour)\b`)},
	{Visualization, regexp.MustCompile(`\b(correlation|relationship)\b.*\bbetween\b`)},

	{DataQuery, regexp.MustCompile(`\b(show|display|find|get|fetch|retrieve|list|give me)\b.*\b(data|measurements|values|records|results|floats?|profiles?|cycles?)\b`)},
	{DataQuery, regexp.MustCompile(`\b(temperature|salinity|pressure|depth)\b.*\b(from|in|at|of|near|around)\b`)},
	{DataQuery, regexp.MustCompile(`\b(how many|count|number of)\b.*\b(floats?|profiles?|measurements|cycles?)\b`)},
	{DataQuery, regexp.MustCompile(`\b(what|which)\b.*\b(is|are|was|were)\b.*\b(temperature|salinity|pressure|depth|floats?|profiles?)\b`)},
	{DataQuery, regexp.MustCompile(`\b(average|mean|max|maximum|min|minimum|deepest|warmest|saltiest)\b.*\b(temperature|salinity|pressure|depth|profile)\b`)},

	{Conversational, regexp.MustCompile(`^(hi|hello|hey|thanks|thank you|ok|okay|good|great|awesome|cool)[.!]*$`)},
	{Conversational, regexp.MustCompile(`^(how are you|what is your name|who are you)\b`)},
	{Conversational, regexp.MustCompile(`^(bye|goodbye|see you)\b`)},
}

// dataTerms marks utterances that talk about the dataset; it steers the
// fallback when no rule matched.
var dataTerms = regexp.MustCompile(`\b(temperature|salinity|pressure|depth|measurements?|floats?|profiles?|cycles?|data)\b`)

// continuation marks follow-up phrasings that lean on the previous turn.
var continuation = regexp.MustCompile(`^(now|and|also|then|what about|how about|same( but)?|again)\b`)

// Classify labels one utterance. prior is the intent of the immediately
// preceding classified turn, or None at the start of a session. It is
// consulted only when the utterance matches no rule outright and reads like
// a follow-up, in which case the prior data-bearing intent is inherited.
func Classify(utterance string, prior Intent) Intent {
	text := strings.ToLower(strings.TrimSpace(utterance))
	if text == "" {
		return Conversational
	}

	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.intent
		}
	}

	if inheritable(text, prior) {
		return prior
	}

	if len(strings.Fields(text)) <= 3 && !dataTerms.MatchString(text) {
		return Conversational
	}
	return DataQuery
}

// inheritable reports whether an unmatched utterance should take over the
// previous turn's intent: the prior turn asked about data and the new text
// is a short continuation rather than a new topic.
func inheritable(text string, prior Intent) bool {
	if !DataBearing(prior) {
		return false
	}
	if continuation.MatchString(text) {
		return true
	}
	return len(strings.Fields(text)) <= 4 && dataTerms.MatchString(text)
}

// DataBearing reports whether an intent requires querying the measurement
// store.
func DataBearing(i Intent) bool {
	switch i {
	case DataQuery, Visualization, Map, Summary, Comparison:
		return true
	}
	return false
}

// chartHints maps phrasing to a preferred chart style for visualization
// intents.
var chartHints = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"line", regexp.MustCompile(`\b(line|trend|time series|over time)\b`)},
	{"bar", regexp.MustCompile(`\b(bar|column|histogram|frequency)\b`)},
	{"scatter", regexp.MustCompile(`\b(scatter|correlation|relationship)\b`)},
	{"heatmap", regexp.MustCompile(`\b(heatmap|heat map|density|intensity)\b`)},
}

// ChartHint suggests a chart style for an utterance, defaulting to "line".
func ChartHint(utterance string) string {
	text := strings.ToLower(utterance)
	for _, h := range chartHints {
		if h.re.MatchString(text) {
			return h.kind
		}
	}
	return "line"
}
