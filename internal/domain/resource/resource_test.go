package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog_SkipsInvalid(t *testing.T) {
	c := NewCatalog(
		Resource{Title: "ok", URL: "https://example.com/a", Topic: "Sine"},
		Resource{Title: "", URL: "https://example.com/b"},
		Resource{Title: "bad url", URL: "example.com"},
	)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_ForTopicAndHints(t *testing.T) {
	c := NewCatalog(Defaults()...)

	inverse := c.ForTopic("inverse")
	assert.Len(t, inverse, 2)

	hints := c.Hints("sine", 1)
	assert.Equal(t, []string{"Khan Academy - Trigonometry (https://www.khanacademy.org/math/trigonometry)"}, hints)

	// No direct match: general trigonometry resources are offered.
	assert.Len(t, c.Hints("radians", 2), 2)
	assert.Nil(t, c.Hints("sine", 0))
}

func TestCatalog_Search(t *testing.T) {
	c := NewCatalog(Defaults()...)
	assert.Len(t, c.Search("KHAN"), 1)
	assert.Empty(t, c.Search("   "))

	r, ok := c.ByURL("https://mathworld.wolfram.com/InverseTrigonometricFunctions.html")
	assert.True(t, ok)
	assert.Equal(t, "Reference", r.Type)
	assert.Contains(t, c.Context(), "1. 3Blue1Brown")
}
