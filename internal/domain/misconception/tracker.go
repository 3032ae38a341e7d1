package misconception

import (
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
)

// Annotation is the tracker's note to the dialogue controller.
type Annotation struct {
	Tag         string
	Description string
	Probe       string
	// Count is how many times the student has shown this misconception.
	Count int
	// FirstTime is true when the tag was not on the profile before.
	FirstTime bool
}

// Tracker matches utterances against the registry and annotates profiles.
type Tracker struct {
	registry *Registry
	now      func() time.Time
}

// NewTracker creates a Tracker. A nil registry uses the embedded one.
func NewTracker(registry *Registry) *Tracker {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Tracker{registry: registry, now: time.Now}
}

// Registry returns the signature registry.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Detect checks an utterance without touching any profile.
func (t *Tracker) Detect(utterance string, concept shared.ConceptTag) (*Signature, bool) {
	return t.registry.Detect(utterance, concept)
}

// Observe records a matched misconception on the profile. Repeated matches of
// the same tag update only its last-seen time and count. It returns nil when
// nothing matched.
func (t *Tracker) Observe(profile *student.Profile, utterance string, concept shared.ConceptTag) *Annotation {
	sig, ok := t.registry.Detect(utterance, concept)
	if !ok {
		return nil
	}
	m, isNew := profile.RecordMisconception(sig.Tag, t.now())
	return &Annotation{
		Tag:         sig.Tag,
		Description: sig.Description,
		Probe:       sig.Probe,
		Count:       m.Count,
		FirstTime:   isNew,
	}
}
