// Package resource holds the catalog of external learning resources that
// tutors and the Q&A assistant can point students to.
package resource

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// Resource is one learning resource, typically a website.
type Resource struct {
	Title       string `json:"title"`
	Topic       string `json:"topic"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Level       string `json:"level"`
	Type        string `json:"type"`
}

// Validate checks that the resource can be offered to a student.
func (r Resource) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return shared.WrapError("resource", "Validate", shared.ErrEmptyValue, "title is empty", nil)
	}
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return shared.WrapError("resource", "Validate", shared.ErrInvalidFormat,
			fmt.Sprintf("invalid url %q", r.URL), err)
	}
	return nil
}

// Hint formats the resource for a prompt.
func (r Resource) Hint() string {
	return fmt.Sprintf("%s (%s)", r.Title, r.URL)
}

// Catalog is a concurrency-safe in-memory set of resources keyed by URL.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Resource
}

// NewCatalog creates a catalog with the given resources. Invalid entries
// are skipped.
func NewCatalog(items ...Resource) *Catalog {
	c := &Catalog{items: make(map[string]Resource)}
	c.Replace(items)
	return c
}

// Replace swaps the whole catalog and returns how many resources were kept.
func (c *Catalog) Replace(items []Resource) int {
	next := make(map[string]Resource, len(items))
	for _, r := range items {
		r.URL = strings.TrimSpace(r.URL)
		if r.Validate() != nil {
			continue
		}
		next[r.URL] = r
	}
	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
	return len(next)
}

// All returns every resource sorted by title.
func (c *Catalog) All() []Resource {
	c.mu.RLock()
	out := make([]Resource, 0, len(c.items))
	for _, r := range c.items {
		out = append(out, r)
	}
	c.mu.RUnlock()
	sortByTitle(out)
	return out
}

// Len returns the number of resources.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// ByURL looks a resource up by its URL.
func (c *Catalog) ByURL(u string) (Resource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.items[strings.TrimSpace(u)]
	return r, ok
}

// ForTopic returns resources whose topic or description mention topic.
func (c *Catalog) ForTopic(topic string) []Resource {
	return c.filter(topic, func(r Resource) []string { return []string{r.Topic, r.Description} })
}

// Search matches query against title, topic and description.
func (c *Catalog) Search(query string) []Resource {
	return c.filter(query, func(r Resource) []string { return []string{r.Title, r.Topic, r.Description} })
}

func (c *Catalog) filter(q string, fields func(Resource) []string) []Resource {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	var out []Resource
	for _, r := range c.All() {
		for _, f := range fields(r) {
			if strings.Contains(strings.ToLower(f), q) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Hints returns up to limit formatted resources for a concept. Concepts with
// no direct match fall back to general trigonometry resources.
func (c *Catalog) Hints(concept shared.ConceptTag, limit int) []string {
	if limit <= 0 {
		return nil
	}
	topic := strings.ReplaceAll(string(concept), "_", " ")
	matches := c.ForTopic(topic)
	if len(matches) == 0 {
		matches = c.ForTopic("trigonometry")
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, r := range matches {
		out[i] = r.Hint()
	}
	return out
}

// Context renders the whole catalog as a numbered list for prompts.
func (c *Catalog) Context() string {
	all := c.All()
	if len(all) == 0 {
		return "No resources available."
	}
	var b strings.Builder
	b.WriteString("Available learning resources:\n")
	for i, r := range all {
		fmt.Fprintf(&b, "%d. %s\n   Topic: %s\n   URL: %s\n   Description: %s\n", i+1, r.Title, r.Topic, r.URL, r.Description)
	}
	return b.String()
}

func sortByTitle(rs []Resource) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Title != rs[j].Title {
			return rs[i].Title < rs[j].Title
		}
		return rs[i].URL < rs[j].URL
	})
}

// Defaults is the starter catalog used when no spreadsheet is configured.
func Defaults() []Resource {
	return []Resource{
		{Title: "Khan Academy - Trigonometry", Topic: "Trigonometry", URL: "https://www.khanacademy.org/math/trigonometry", Description: "Lessons on sine, cosine, tangent and the unit circle", Level: "Beginner-Intermediate", Type: "Video Lessons"},
		{Title: "Paul's Online Math Notes - Trig Functions", Topic: "Trigonometry", URL: "https://tutorial.math.lamar.edu/Classes/Alg/TrigFcns.aspx", Description: "Written notes on trig functions, inverse functions and identities", Level: "Intermediate", Type: "Written Notes"},
		{Title: "Math is Fun - Sine, Cosine and Tangent", Topic: "Sine Cosine Tangent", URL: "https://www.mathsisfun.com/sine-cosine-tangent.html", Description: "Visual introduction to SOH CAH TOA with a right triangle", Level: "Beginner", Type: "Interactive"},
		{Title: "3Blue1Brown - Unit Circle Intuition", Topic: "Identity", URL: "https://www.youtube.com/c/3blue1brown", Description: "Animated explanations that make the Pythagorean identity visual", Level: "Intermediate", Type: "Video"},
		{Title: "Wolfram MathWorld - Inverse Trigonometric Functions", Topic: "Inverse", URL: "https://mathworld.wolfram.com/InverseTrigonometricFunctions.html", Description: "Reference definitions of arcsin, arccos and arctan", Level: "All Levels", Type: "Reference"},
	}
}
