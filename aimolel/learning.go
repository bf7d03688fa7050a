package aimolel

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

// LearningConfig controls the background incremental-learning service.
type LearningConfig struct {
	// Threshold is the number of pending examples that triggers an
	// incremental training run.
	Threshold int
	// CorrectionThreshold is the number of user corrections that
	// triggers training immediately, without waiting for Threshold.
	CorrectionThreshold int
	// Interval is how often pending data is checked.
	Interval time.Duration
	// WebInterval is how often web content is harvested.
	WebInterval time.Duration
	// Topics is the pool of harvest queries.
	Topics []string
	// TopicsPerCycle is how many topics each harvest cycle covers.
	TopicsPerCycle int
	// BatchLimit caps the examples consumed per training run.
	BatchLimit int
	// CheckpointPath is where incremental checkpoints are written.
	CheckpointPath string
	// VocabPath is where the tokenizer is saved after vocab growth.
	VocabPath string
}

// DefaultLearningConfig returns the service defaults: hourly data
// checks with a 50-example threshold and two-hourly web harvesting.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		Threshold:           50,
		CorrectionThreshold: 5,
		Interval:            time.Hour,
		WebInterval:         2 * time.Hour,
		Topics: []string{
			"artificial intelligence",
			"machine learning",
			"natural language processing",
			"computer science",
			"software engineering",
			"mathematics",
			"physics",
			"history",
		},
		TopicsPerCycle: 3,
		BatchLimit:     200,
		CheckpointPath: "model.ckpt",
		VocabPath:      "vocab.json",
	}
}

// LearningStats is a point-in-time view of the service.
type LearningStats struct {
	CyclesRun       int
	ExamplesTrained int
	WebChunksStored int
	IsTraining      bool
	LastCycle       time.Time
	LastWebCycle    time.Time
	LastError       string
}

// LearningService collects training data from conversations, feedback
// and web searches, and periodically fine-tunes the serving model in
// the background. A training run clones the current snapshot, trains
// the clone and publishes it back to the engine, so serving is never
// blocked.
type LearningService struct {
	cfg      LearningConfig
	trainCfg TrainerConfig
	db       DatabaseManager
	search   SearchService
	engine   *InferenceEngine
	logger   *log.Logger

	isTraining atomic.Bool
	stop       chan struct{}
	wg         sync.WaitGroup

	mu             sync.Mutex
	seenChunks     map[uint64]bool
	topicIdx       int
	correctionsRun int
	stats          LearningStats
}

// NewLearningService wires the service to its collaborators. search may
// be nil to disable web harvesting.
func NewLearningService(cfg LearningConfig, trainCfg TrainerConfig, db DatabaseManager, search SearchService, engine *InferenceEngine, logger *log.Logger) *LearningService {
	if logger == nil {
		logger = log.Default()
	}
	trainCfg.ShowProgress = false
	trainCfg.CheckpointPath = cfg.CheckpointPath
	return &LearningService{
		cfg:        cfg,
		trainCfg:   trainCfg,
		db:         db,
		search:     search,
		engine:     engine,
		logger:     logger,
		stop:       make(chan struct{}),
		seenChunks: make(map[uint64]bool),
	}
}

// Start launches the background loops. Call Stop to shut them down.
func (s *LearningService) Start() {
	s.wg.Add(1)
	go s.learningLoop()
	if s.search != nil {
		s.wg.Add(1)
		go s.webLoop()
	}
	s.logger.Printf("learning service started: check every %s, harvest every %s", s.cfg.Interval, s.cfg.WebInterval)
}

// Stop shuts the background loops down and waits for them to exit. A
// training run already in progress finishes first.
func (s *LearningService) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *LearningService) learningLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.RunLearningCycle(context.Background(), false); err != nil {
				s.recordError(fmt.Errorf("learning cycle: %w", err))
			}
		}
	}
}

func (s *LearningService) webLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.WebInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.RunWebCycle(); err != nil {
				s.recordError(fmt.Errorf("web cycle: %w", err))
			}
		}
	}
}

func (s *LearningService) recordError(err error) {
	s.logger.Printf("%v", err)
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}

// CollectConversation scores a finished turn and stores it as training
// data when it clears the conversational quality bar. The turn is
// always logged regardless of score.
func (s *LearningService) CollectConversation(userMessage, aiResponse, sessionID, apiKey string) error {
	if _, err := s.db.LogConversation(sessionID, userMessage, aiResponse, apiKey); err != nil {
		return fmt.Errorf("log conversation: %w", err)
	}
	score := AssessQuality(userMessage, aiResponse)
	if score < MinConversationQuality {
		return nil
	}
	if err := s.db.AddLearningData(userMessage, aiResponse, "conversation", score); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}

// ProcessFeedback stores user feedback on a turn. Positive feedback
// promotes the original response as training data; a correction stores
// the corrected text at maximum quality and, once enough corrections
// accumulate, triggers a training run immediately.
func (s *LearningService) ProcessFeedback(conversationID int64, userMessage, aiResponse, feedbackType, correction, apiKey string) error {
	if err := s.db.StoreFeedback(conversationID, userMessage, aiResponse, feedbackType, correction, apiKey); err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}
	switch feedbackType {
	case "positive":
		if err := s.db.AddLearningData(userMessage, aiResponse, "feedback", 1.5); err != nil {
			return fmt.Errorf("store positive feedback: %w", err)
		}
	case "correction":
		if strings.TrimSpace(correction) == "" {
			return nil
		}
		if err := s.db.AddLearningData(userMessage, correction, "correction", 2.0); err != nil {
			return fmt.Errorf("store correction: %w", err)
		}
		s.mu.Lock()
		s.correctionsRun++
		trigger := s.correctionsRun >= s.cfg.CorrectionThreshold
		if trigger {
			s.correctionsRun = 0
		}
		s.mu.Unlock()
		if trigger {
			go func() {
				if err := s.RunLearningCycle(context.Background(), true); err != nil {
					s.recordError(fmt.Errorf("correction-triggered cycle: %w", err))
				}
			}()
		}
	}
	return nil
}

// RunLearningCycle checks pending data and fine-tunes when the
// threshold is met. force skips the threshold check. A cycle that finds
// training already active is a no-op.
func (s *LearningService) RunLearningCycle(ctx context.Context, force bool) error {
	examples, err := s.db.GetLearningData(s.cfg.BatchLimit, MinConversationQuality)
	if err != nil {
		return fmt.Errorf("fetch learning data: %w", err)
	}
	s.mu.Lock()
	s.stats.LastCycle = time.Now()
	s.mu.Unlock()

	if !force && len(examples) < s.cfg.Threshold {
		return nil
	}
	if len(examples) == 0 {
		return nil
	}
	return s.trainOn(ctx, examples)
}

// trainOn runs one incremental training pass over the given examples.
// Only one pass runs at a time; overlapping calls return
// ErrTrainingActive without training.
func (s *LearningService) trainOn(ctx context.Context, examples []LearningExample) error {
	if !s.isTraining.CompareAndSwap(false, true) {
		return ErrTrainingActive
	}
	defer s.isTraining.Store(false)

	model, tok, err := s.engine.Snapshot()
	if err != nil {
		return err
	}

	texts := make([]string, 0, len(examples))
	ids := make([]int64, 0, len(examples))
	for _, ex := range examples {
		texts = append(texts, fmt.Sprintf("Human: %s\nAssistant: %s", ex.Input, ex.Target))
		ids = append(ids, ex.ID)
	}

	// Train a private copy; the serving snapshot stays untouched until
	// the new weights are checkpointed and published.
	workModel := model.Clone()
	workTok := tok.Clone()
	if err := s.growVocab(workModel, workTok, texts); err != nil {
		return err
	}

	trainer, err := NewTrainer(workModel, workTok, s.trainCfg, s.logger)
	if err != nil {
		return err
	}
	s.logger.Printf("incremental training on %d examples", len(texts))
	if err := trainer.TrainIncremental(ctx, texts); err != nil {
		return fmt.Errorf("incremental training: %w", err)
	}

	if s.cfg.VocabPath != "" {
		if err := workTok.Save(s.cfg.VocabPath); err != nil {
			return fmt.Errorf("save vocabulary: %w", err)
		}
	}
	s.engine.Publish(workModel, workTok)
	if err := s.db.MarkDataUsed(ids); err != nil {
		return fmt.Errorf("mark data used: %w", err)
	}

	s.mu.Lock()
	s.stats.CyclesRun++
	s.stats.ExamplesTrained += len(texts)
	s.mu.Unlock()
	s.logger.Printf("incremental training done: %d examples, vocab %d", len(texts), workTok.VocabSize())
	return nil
}

// growVocab registers unseen words from the training texts and widens
// the model's embedding and output head to match.
func (s *LearningService) growVocab(model *tensor.Model, tok *tokenizer.Tokenizer, texts []string) error {
	before := tok.VocabSize()
	for _, text := range texts {
		for _, word := range strings.Fields(tokenizer.Preprocess(text)) {
			tok.AddWord(word)
		}
	}
	if tok.VocabSize() == before {
		return nil
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	if err := model.ResizeVocab(tok.VocabSize(), rng); err != nil {
		return fmt.Errorf("resize vocabulary: %w", err)
	}
	return nil
}

var (
	urlRe      = regexp.MustCompile(`https?://\S+`)
	refMarkRe  = regexp.MustCompile(`\[\d+\]`)
	nonPrintRe = regexp.MustCompile(`[^\x20-\x7e]+`)
	multiSpace = regexp.MustCompile(`\s+`)
	sentenceRe = regexp.MustCompile(`[.!?]\s+`)
)

const (
	maxChunkLen = 400
	minChunkLen = 40
)

// RunWebCycle harvests the next few topics from the search service and
// stores quality-filtered, deduplicated chunks as question/answer
// training pairs. Per-topic errors are logged and the cycle continues.
func (s *LearningService) RunWebCycle() error {
	if s.search == nil {
		return nil
	}
	topics := s.nextTopics()
	stored := 0
	for _, topic := range topics {
		results, err := s.search.Search(topic, 3)
		if err != nil {
			s.logger.Printf("harvest %q: %v", topic, err)
			continue
		}
		for _, r := range results {
			for _, chunk := range chunkText(cleanWebText(r.Snippet)) {
				if !s.markChunkSeen(chunk) {
					continue
				}
				score := AssessWebQuality(topic, chunk)
				if score < MinWebQuality {
					continue
				}
				for _, qa := range synthesizeQA(topic, chunk) {
					if err := s.db.AddLearningData(qa[0], qa[1], "web_content", score); err != nil {
						return fmt.Errorf("store web content: %w", err)
					}
				}
				stored++
			}
		}
	}
	s.mu.Lock()
	s.stats.LastWebCycle = time.Now()
	s.stats.WebChunksStored += stored
	s.mu.Unlock()
	if stored > 0 {
		s.logger.Printf("web harvest: stored %d chunks from %d topics", stored, len(topics))
	}
	return nil
}

// nextTopics returns the next slice of the topic pool, round-robin.
func (s *LearningService) nextTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cfg.Topics) == 0 {
		return nil
	}
	n := s.cfg.TopicsPerCycle
	if n > len(s.cfg.Topics) {
		n = len(s.cfg.Topics)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.cfg.Topics[s.topicIdx])
		s.topicIdx = (s.topicIdx + 1) % len(s.cfg.Topics)
	}
	return out
}

// markChunkSeen reports whether the chunk is new, recording its hash.
func (s *LearningService) markChunkSeen(chunk string) bool {
	h := xxhash.Sum64String(chunk)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenChunks[h] {
		return false
	}
	s.seenChunks[h] = true
	return true
}

// Stats returns a snapshot of the service counters.
func (s *LearningService) Stats() LearningStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.IsTraining = s.isTraining.Load()
	return st
}

// maxCleanedLen caps how much of a harvested page/snippet is kept.
const maxCleanedLen = 2000

// cleanWebText strips URLs, citation marks and non-ASCII noise,
// collapses whitespace and caps the length.
func cleanWebText(text string) string {
	text = urlRe.ReplaceAllString(text, " ")
	text = refMarkRe.ReplaceAllString(text, " ")
	text = nonPrintRe.ReplaceAllString(text, " ")
	text = multiSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if len(text) > maxCleanedLen {
		text = text[:maxCleanedLen]
	}
	return text
}

// chunkText splits cleaned text into sentence-bounded chunks within
// the length window.
func chunkText(text string) []string {
	if len(text) < minChunkLen {
		return nil
	}
	sentences := sentenceRe.Split(text, -1)
	var chunks []string
	var cur strings.Builder
	flush := func() {
		c := strings.TrimSpace(cur.String())
		if len(c) >= minChunkLen {
			if !strings.HasSuffix(c, ".") && !strings.HasSuffix(c, "!") && !strings.HasSuffix(c, "?") {
				c += "."
			}
			chunks = append(chunks, c)
		}
		cur.Reset()
	}
	for _, sent := range sentences {
		sent = strings.TrimSpace(sent)
		if sent == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(sent) > maxChunkLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(". ")
		}
		cur.WriteString(sent)
	}
	flush()
	return chunks
}

// synthesizeQA turns a harvested chunk into question/answer training
// pairs anchored on the topic it was found under.
func synthesizeQA(topic, chunk string) [][2]string {
	return [][2]string{
		{fmt.Sprintf("What is %s?", topic), chunk},
		{fmt.Sprintf("Tell me about %s.", topic), chunk},
	}
}
