package aimolel

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// SearchResult is one hit returned by a SearchService.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchService answers web-search queries. Implementations may talk to
// a real search backend; the engine degrades gracefully when Search
// returns an error.
type SearchService interface {
	Search(query string, maxResults int) ([]SearchResult, error)
}

// LearningExample is one stored input/target pair awaiting training.
type LearningExample struct {
	ID              int64
	Input           string
	Target          string
	Source          string
	Quality         float64
	UsedForTraining bool
	CreatedAt       time.Time
}

// DatabaseManager persists conversations, feedback and learning data.
type DatabaseManager interface {
	// AddLearningData stores one training pair with its quality score.
	AddLearningData(input, target, source string, quality float64) error
	// GetLearningData returns up to limit unused examples at or above
	// the given quality, newest first.
	GetLearningData(limit int, minQuality float64) ([]LearningExample, error)
	// MarkDataUsed flags the given examples as consumed by training.
	MarkDataUsed(ids []int64) error
	// LogConversation records a turn and returns its identifier.
	LogConversation(sessionID, userMessage, aiResponse, apiKey string) (int64, error)
	// StoreFeedback records user feedback on a logged turn.
	StoreFeedback(conversationID int64, userMessage, aiResponse, feedbackType, correction, apiKey string) error
}

type storedFeedback struct {
	conversationID int64
	userMessage    string
	aiResponse     string
	feedbackType   string
	correction     string
	apiKey         string
}

type storedConversation struct {
	id          int64
	sessionID   string
	userMessage string
	aiResponse  string
	apiKey      string
	at          time.Time
}

// MemoryDatabase is an in-memory DatabaseManager for tests and local
// runs without a real store.
type MemoryDatabase struct {
	mu            sync.Mutex
	nextID        int64
	examples      []LearningExample
	conversations []storedConversation
	feedback      []storedFeedback
}

// NewMemoryDatabase returns an empty in-memory database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{}
}

// AddLearningData implements DatabaseManager.
func (d *MemoryDatabase) AddLearningData(input, target, source string, quality float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.examples = append(d.examples, LearningExample{
		ID:        d.nextID,
		Input:     input,
		Target:    target,
		Source:    source,
		Quality:   quality,
		CreatedAt: time.Now(),
	})
	return nil
}

// GetLearningData implements DatabaseManager.
func (d *MemoryDatabase) GetLearningData(limit int, minQuality float64) ([]LearningExample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []LearningExample
	for i := len(d.examples) - 1; i >= 0 && len(out) < limit; i-- {
		ex := d.examples[i]
		if ex.UsedForTraining || ex.Quality < minQuality {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// MarkDataUsed implements DatabaseManager.
func (d *MemoryDatabase) MarkDataUsed(ids []int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	used := make(map[int64]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	for i := range d.examples {
		if used[d.examples[i].ID] {
			d.examples[i].UsedForTraining = true
		}
	}
	return nil
}

// LogConversation implements DatabaseManager.
func (d *MemoryDatabase) LogConversation(sessionID, userMessage, aiResponse, apiKey string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.conversations = append(d.conversations, storedConversation{
		id:          d.nextID,
		sessionID:   sessionID,
		userMessage: userMessage,
		aiResponse:  aiResponse,
		apiKey:      apiKey,
		at:          time.Now(),
	})
	return d.nextID, nil
}

// StoreFeedback implements DatabaseManager.
func (d *MemoryDatabase) StoreFeedback(conversationID int64, userMessage, aiResponse, feedbackType, correction, apiKey string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feedback = append(d.feedback, storedFeedback{
		conversationID: conversationID,
		userMessage:    userMessage,
		aiResponse:     aiResponse,
		feedbackType:   feedbackType,
		correction:     correction,
		apiKey:         apiKey,
	})
	return nil
}

// PendingCount returns the number of unused stored examples.
func (d *MemoryDatabase) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ex := range d.examples {
		if !ex.UsedForTraining {
			n++
		}
	}
	return n
}

// StaticSearch is a SearchService backed by a fixed result table,
// keyed by substring match on the query.
type StaticSearch struct {
	Results map[string][]SearchResult
}

// NewStaticSearch returns a search service over the given table.
func NewStaticSearch(results map[string][]SearchResult) *StaticSearch {
	return &StaticSearch{Results: results}
}

// Search implements SearchService. Queries with no matching key return
// an error, mirroring a backend with no coverage for the topic.
func (s *StaticSearch) Search(query string, maxResults int) ([]SearchResult, error) {
	q := strings.ToLower(query)
	for key, results := range s.Results {
		if strings.Contains(q, strings.ToLower(key)) {
			if len(results) > maxResults {
				results = results[:maxResults]
			}
			return results, nil
		}
	}
	return nil, fmt.Errorf("no results for %q", query)
}
