package enrich

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/inkwell-app/inkwell/internal/store"
)

// TaggingStep derives topical tags from entry content by keyword lookup. A
// model-based tagger can replace this behind the same Step interface.
type TaggingStep struct {
	Store *store.Store
}

var tagKeywords = map[string][]string{
	"work":     {"work", "meeting", "deadline", "project", "boss", "office"},
	"health":   {"run", "ran", "gym", "workout", "sleep", "slept", "tired", "sick"},
	"mood":     {"happy", "sad", "anxious", "stressed", "grateful", "angry", "calm"},
	"social":   {"friend", "family", "dinner", "party", "visited", "called"},
	"learning": {"read", "reading", "studied", "course", "learned", "practice"},
}

func (t *TaggingStep) Name() string { return "tagging" }

func (t *TaggingStep) Run(ctx context.Context, entry *store.Entry) error {
	words := tokenize(entry.Content)
	var tags []string
	for tag, keywords := range tagKeywords {
		for _, kw := range keywords {
			if _, ok := words[kw]; ok {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	entry.Tags = tags
	return t.Store.SetEntryTags(ctx, entry.OwnerID, entry.ID, tags)
}

// ExtractionStep pulls structured entities out of the text: dates, mentions
// and hashtags.
type ExtractionStep struct {
	Store *store.Store
}

var (
	datePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_]+)`)
	hashtagPattern = regexp.MustCompile(`#([a-zA-Z0-9_]+)`)
)

func (e *ExtractionStep) Name() string { return "extraction" }

func (e *ExtractionStep) Run(ctx context.Context, entry *store.Entry) error {
	entities := map[string]string{}
	if d := datePattern.FindString(entry.Content); d != "" {
		entities["date"] = d
	}
	if m := mentionPattern.FindAllStringSubmatch(entry.Content, -1); len(m) > 0 {
		var names []string
		for _, match := range m {
			names = append(names, match[1])
		}
		entities["mentions"] = strings.Join(names, ",")
	}
	if h := hashtagPattern.FindAllStringSubmatch(entry.Content, -1); len(h) > 0 {
		var tags []string
		for _, match := range h {
			tags = append(tags, match[1])
		}
		entities["hashtags"] = strings.Join(tags, ",")
	}
	entry.Entities = entities
	return e.Store.SetEntryEntities(ctx, entry.OwnerID, entry.ID, entities)
}

// IndexingStep writes a hashed bag-of-words vector into the entry index. The
// vector is only good for coarse similarity; it stands in for a remote
// embedding call and keeps indexing local and deterministic.
type IndexingStep struct {
	Store *store.Store
	Dims  int
}

func (i *IndexingStep) Name() string { return "indexing" }

func (i *IndexingStep) Run(ctx context.Context, entry *store.Entry) error {
	dims := i.Dims
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for word := range tokenize(entry.Content) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dims)]++
	}
	return i.Store.IndexEntry(ctx, entry.OwnerID, entry.ID, vec)
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) > 1 {
			out[w] = struct{}{}
		}
	}
	return out
}
