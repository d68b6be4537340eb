package tier

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// GraphConfig holds configuration for the relationship graph tier.
type GraphConfig struct {
	// MaxNeighbors caps linked records returned per seed topic.
	MaxNeighbors int
}

// ApplyDefaults sets default values for unset fields.
func (c *GraphConfig) ApplyDefaults() {
	if c.MaxNeighbors == 0 {
		c.MaxNeighbors = 10
	}
}

// Graph is the optional relationship tier: an in-memory topic/entity
// linkage over a user's records. It contributes candidates that share
// topics with the query even when lexical or vector similarity is weak.
// Contents are derived data, rebuilt from the archive on restart.
type Graph struct {
	config GraphConfig

	mu sync.RWMutex
	// byTopic maps userID -> topic -> record IDs.
	byTopic map[string]map[string][]string
	// records maps userID -> record ID -> record.
	records map[string]map[string]memory.Record
}

// NewGraph creates the relationship graph tier.
func NewGraph(config GraphConfig) *Graph {
	config.ApplyDefaults()
	return &Graph{
		config:  config,
		byTopic: make(map[string]map[string][]string),
		records: make(map[string]map[string]memory.Record),
	}
}

// Name identifies the tier.
func (g *Graph) Name() string { return TierGraph }

// Store links the record under each topic found in its content.
func (g *Graph) Store(_ context.Context, rec *memory.Record) error {
	topics := ExtractTopics(rec.Content + " " + rec.Response)
	if len(topics) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	userTopics, ok := g.byTopic[rec.UserID]
	if !ok {
		userTopics = make(map[string][]string)
		g.byTopic[rec.UserID] = userTopics
	}
	userRecords, ok := g.records[rec.UserID]
	if !ok {
		userRecords = make(map[string]memory.Record)
		g.records[rec.UserID] = userRecords
	}

	if _, seen := userRecords[rec.ID]; !seen {
		for _, topic := range topics {
			userTopics[topic] = append(userTopics[topic], rec.ID)
		}
	}
	userRecords[rec.ID] = *rec
	return nil
}

// Retrieve returns records linked to the query through shared topics,
// ranked by the number of shared topics.
func (g *Graph) Retrieve(_ context.Context, userID, query string, limit int) ([]memory.Record, error) {
	topics := ExtractTopics(query)
	if len(topics) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = g.config.MaxNeighbors
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	userTopics, ok := g.byTopic[userID]
	if !ok {
		return nil, nil
	}

	hits := make(map[string]int)
	for _, topic := range topics {
		seeds := userTopics[topic]
		if len(seeds) > g.config.MaxNeighbors {
			seeds = seeds[len(seeds)-g.config.MaxNeighbors:]
		}
		for _, id := range seeds {
			hits[id]++
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if hits[ids[i]] != hits[ids[j]] {
			return hits[ids[i]] > hits[ids[j]]
		}
		return ids[i] > ids[j] // newer ULIDs sort higher
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}

	userRecords := g.records[userID]
	recs := make([]memory.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := userRecords[id]; ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// Close releases the graph.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byTopic = make(map[string]map[string][]string)
	g.records = make(map[string]map[string]memory.Record)
	return nil
}

// topicVocabulary maps topic categories to trigger keywords.
var topicVocabulary = map[string][]string{
	"work":          {"work", "job", "boss", "meeting", "project", "deadline", "office", "career", "colleague"},
	"family":        {"family", "mom", "dad", "mother", "father", "sister", "brother", "parents", "kids", "child"},
	"health":        {"health", "doctor", "sick", "sleep", "tired", "exercise", "gym", "diet", "therapy"},
	"relationships": {"friend", "partner", "girlfriend", "boyfriend", "wife", "husband", "date", "relationship"},
	"hobbies":       {"game", "gaming", "music", "movie", "book", "reading", "cooking", "travel", "art", "sport"},
	"school":        {"school", "class", "exam", "study", "homework", "teacher", "university", "college", "course"},
	"money":         {"money", "budget", "rent", "salary", "spending", "savings", "debt", "bills"},
	"food":          {"food", "dinner", "lunch", "breakfast", "restaurant", "recipe", "eat", "meal"},
}

// ExtractTopics returns the topic categories triggered by the text.
func ExtractTopics(text string) []string {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	var topics []string
	for topic, keywords := range topicVocabulary {
		for _, kw := range keywords {
			if words[kw] {
				topics = append(topics, topic)
				break
			}
		}
	}
	sort.Strings(topics)
	return topics
}
