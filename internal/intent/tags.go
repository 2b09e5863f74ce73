package intent

import (
	"regexp"
	"sort"
	"strings"
)

// TagKind identifies a recognized intent tag.
type TagKind string

const (
	TagRememberFact TagKind = "remember-fact"
	TagSetGoal      TagKind = "set-goal"
	TagCompleteGoal TagKind = "complete-goal"
	TagForgetFact   TagKind = "forget-fact"
	TagCreateJob    TagKind = "create-job"
	TagMilestone    TagKind = "tag-milestone"
	TagVoiceReply   TagKind = "voice-reply"
)

// Tag is one extracted tag occurrence. Span indexes into the raw text so the
// pipeline can strip every occurrence regardless of validation outcome.
type Tag struct {
	Kind    TagKind
	Payload string
	Start   int
	End     int
}

// tagDef binds a tag kind to its extraction grammar. Keeping this a flat
// table means the wire syntax can change without touching allowlist, cap, or
// dedup logic.
type tagDef struct {
	kind TagKind
	re   *regexp.Regexp
}

var tagDefs = []tagDef{
	{TagRememberFact, regexp.MustCompile(`(?i)\[REMEMBER\s*:\s*([^\[\]]*)\]`)},
	{TagSetGoal, regexp.MustCompile(`(?i)\[GOAL\s*:\s*([^\[\]]*)\]`)},
	{TagCompleteGoal, regexp.MustCompile(`(?i)\[GOAL_DONE\s*:\s*([^\[\]]*)\]`)},
	{TagForgetFact, regexp.MustCompile(`(?i)\[FORGET\s*:\s*([^\[\]]*)\]`)},
	{TagCreateJob, regexp.MustCompile(`(?i)\[SCHEDULE\s*:\s*([^\[\]]*)\]`)},
	{TagMilestone, regexp.MustCompile(`(?i)\[MILESTONE\s*:\s*([^\[\]]*)\]`)},
	{TagVoiceReply, regexp.MustCompile(`(?i)\[VOICE\]`)},
}

// extractTags scans raw text for all tag occurrences, in document order.
func extractTags(raw string) []Tag {
	var tags []Tag
	for _, def := range tagDefs {
		for _, m := range def.re.FindAllStringSubmatchIndex(raw, -1) {
			tag := Tag{Kind: def.kind, Start: m[0], End: m[1]}
			if len(m) >= 4 && m[2] >= 0 {
				tag.Payload = strings.TrimSpace(raw[m[2]:m[3]])
			}
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Start < tags[j].Start })
	return tags
}

var blankRunPattern = regexp.MustCompile(`\n{3,}`)
var spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)

// stripTags removes every tag span from raw and tidies the leftover
// whitespace so the delivered text reads naturally.
func stripTags(raw string, tags []Tag) string {
	if len(tags) == 0 {
		return raw
	}
	var b strings.Builder
	prev := 0
	for _, tag := range tags {
		if tag.Start < prev {
			continue // overlapping span, already removed
		}
		b.WriteString(raw[prev:tag.Start])
		prev = tag.End
	}
	b.WriteString(raw[prev:])

	cleaned := spaceRunPattern.ReplaceAllString(b.String(), " ")
	cleaned = blankRunPattern.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
