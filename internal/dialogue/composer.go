package dialogue

import (
	"hash/fnv"
	"strings"

	"github.com/stellarlinkco/sentiencex/internal/learning"
	"github.com/stellarlinkco/sentiencex/internal/locale"
)

// Slot names.
const (
	SlotReflect = "reflect"
	SlotTopic   = "topic"
)

// Composed is a filled template before shaping.
type Composed struct {
	Text       string
	TemplateID string
	Tone       string
}

// ReflectPhrase opens the reply with a mirror of the user's state.
func ReflectPhrase(sentiment string, hiddenDistress float64, masking bool) string {
	switch {
	case hiddenDistress >= 0.70 && masking:
		return "I'm noticing a lot under the surface. "
	case sentiment == "neg":
		return "That sounds rough. "
	case sentiment == "pos" && hiddenDistress < 0.35:
		return "I hear you. "
	default:
		return "I'm with you. "
	}
}

// Composer picks templates with the bandit and fills their slots.
type Composer struct {
	bundle *locale.Bundle
	ranker *learning.TemplateRanker
}

func NewComposer(b *locale.Bundle, ranker *learning.TemplateRanker) *Composer {
	return &Composer{bundle: b, ranker: ranker}
}

// Candidates returns the templates of the tone group that allow brevity,
// else the acknowledgement templates that do, else the whole group.
func (c *Composer) Candidates(tone, brevity string) []locale.Template {
	group := c.bundle.Group(tone)
	if out := allowing(group, brevity); len(out) > 0 {
		return out
	}
	if out := allowing(c.bundle.Templates[locale.ToneAckShort], brevity); len(out) > 0 {
		return out
	}
	return group
}

func allowing(tpls []locale.Template, brevity string) []locale.Template {
	var out []locale.Template
	for _, t := range tpls {
		if t.Allows(brevity) {
			out = append(out, t)
		}
	}
	return out
}

// Seed mixes the clock with the decision so picks vary across turns but
// repeat within one.
func Seed(unixSeconds int64, tone, brevity, topic string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tone + "|" + brevity + "|" + topic))
	return uint64(unixSeconds) ^ h.Sum64()
}

// Compose picks and fills a template.
func (c *Composer) Compose(tone, brevity string, slots map[string]string, seed uint64) Composed {
	cands := c.Candidates(tone, brevity)
	if len(cands) == 0 {
		return Composed{Text: fill("{reflect}", slots), TemplateID: "system.empty", Tone: tone}
	}
	ids := make([]string, len(cands))
	for i, t := range cands {
		ids[i] = t.ID
	}
	chosen := cands[0]
	if id := c.ranker.Pick(ids, seed); id != "" {
		for _, t := range cands {
			if t.ID == id {
				chosen = t
				break
			}
		}
	}
	out := Composed{Text: fill(chosen.Text, slots), TemplateID: chosen.ID, Tone: chosen.Tone}
	if out.Tone == "" {
		out.Tone = tone
	}
	return out
}

func fill(text string, slots map[string]string) string {
	for k, v := range slots {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

// BestTopic names what the message is about: the first distress phrase it
// contains, else a salient remembered topic, else "that".
func BestTopic(lower string, distress locale.WordSet, top []string) string {
	for _, phrase := range distress.Sorted() {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	if len(top) > 0 {
		return top[0]
	}
	return "that"
}

// TopicSalience scores the topics a message mentions for semantic memory.
func TopicSalience(lower string, distress locale.WordSet, knowledge map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(knowledge))
	for phrase := range distress {
		if strings.Contains(lower, phrase) {
			out[phrase] = 1.0
		}
	}
	for topic, v := range knowledge {
		out[topic] = max(out[topic], v)
	}
	return out
}
