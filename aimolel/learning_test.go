package aimolel

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func testLearningService(t *testing.T) (*LearningService, *MemoryDatabase, *InferenceEngine) {
	t.Helper()
	db := NewMemoryDatabase()
	e := testEngine(t)
	publishTestModel(t, e)

	cfg := DefaultLearningConfig()
	cfg.Threshold = 5
	cfg.Topics = []string{"artificial intelligence"}
	cfg.TopicsPerCycle = 1
	dir := t.TempDir()
	cfg.CheckpointPath = filepath.Join(dir, "model.ckpt")
	cfg.VocabPath = filepath.Join(dir, "vocab.json")

	trainCfg := DefaultTrainerConfig()
	trainCfg.Epochs = 2
	trainCfg.MaxLength = 8
	trainCfg.WarmupSteps = 0
	trainCfg.Seed = 3

	search := NewStaticSearch(map[string][]SearchResult{
		"artificial intelligence": {{
			Title: "AI overview",
			URL:   "http://example.com/ai",
			Snippet: "Artificial intelligence is a field of computer science that builds systems able to " +
				"perform tasks requiring human reasoning. According to research, these systems now learn " +
				"directly from large amounts of text and improve with experience over time.",
		}},
	})
	return NewLearningService(cfg, trainCfg, db, search, e, nil), db, e
}

func TestCollectConversationQualityFilter(t *testing.T) {
	s, db, _ := testLearningService(t)

	good := "That is an interesting topic and there is quite a lot to say about it in detail."
	if err := s.CollectConversation("tell me something", good, "s1", ""); err != nil {
		t.Fatalf("CollectConversation: %v", err)
	}
	if db.PendingCount() != 1 {
		t.Errorf("good turn not stored, pending = %d", db.PendingCount())
	}

	if err := s.CollectConversation("tell me something", "sorry", "s1", ""); err != nil {
		t.Fatalf("CollectConversation: %v", err)
	}
	if db.PendingCount() != 1 {
		t.Errorf("low-quality turn was stored, pending = %d", db.PendingCount())
	}
}

func TestLearningCycleBelowThreshold(t *testing.T) {
	s, db, _ := testLearningService(t)
	for i := 0; i < 4; i++ {
		if err := db.AddLearningData("question", "a reasonably detailed answer here.", "conversation", 1.0); err != nil {
			t.Fatalf("AddLearningData: %v", err)
		}
	}
	if err := s.RunLearningCycle(context.Background(), false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	if s.Stats().CyclesRun != 0 {
		t.Errorf("training ran below threshold")
	}
	if db.PendingCount() != 4 {
		t.Errorf("pending data consumed below threshold")
	}
}

func TestLearningCycleAtThreshold(t *testing.T) {
	s, db, e := testLearningService(t)
	before, _, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := db.AddLearningData("question", "a reasonably detailed answer here.", "conversation", 1.0); err != nil {
			t.Fatalf("AddLearningData: %v", err)
		}
	}
	if err := s.RunLearningCycle(context.Background(), false); err != nil {
		t.Fatalf("RunLearningCycle: %v", err)
	}
	st := s.Stats()
	if st.CyclesRun != 1 || st.ExamplesTrained != 5 {
		t.Errorf("stats = %+v", st)
	}
	if db.PendingCount() != 0 {
		t.Errorf("trained data not marked used, pending = %d", db.PendingCount())
	}
	after, _, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after training: %v", err)
	}
	if after == before {
		t.Errorf("training did not publish a new snapshot")
	}
}

func TestTrainingGuardIsNoOp(t *testing.T) {
	s, db, _ := testLearningService(t)
	if err := db.AddLearningData("question", "a reasonably detailed answer here.", "conversation", 1.0); err != nil {
		t.Fatalf("AddLearningData: %v", err)
	}
	s.isTraining.Store(true)
	err := s.RunLearningCycle(context.Background(), true)
	if err != ErrTrainingActive {
		t.Errorf("overlapping cycle error = %v, want ErrTrainingActive", err)
	}
	if db.PendingCount() != 1 {
		t.Errorf("guarded cycle consumed data")
	}
}

func TestProcessFeedback(t *testing.T) {
	s, db, _ := testLearningService(t)
	if err := s.ProcessFeedback(1, "question", "answer", "positive", "", ""); err != nil {
		t.Fatalf("ProcessFeedback: %v", err)
	}
	if db.PendingCount() != 1 {
		t.Errorf("positive feedback not stored")
	}

	if err := s.ProcessFeedback(2, "question", "wrong answer", "correction", "the right answer", ""); err != nil {
		t.Fatalf("ProcessFeedback: %v", err)
	}
	examples, err := db.GetLearningData(10, 0)
	if err != nil {
		t.Fatalf("GetLearningData: %v", err)
	}
	var found bool
	for _, ex := range examples {
		if ex.Source == "correction" {
			found = true
			if ex.Quality != 2.0 {
				t.Errorf("correction quality = %g, want 2.0", ex.Quality)
			}
			if ex.Target != "the right answer" {
				t.Errorf("correction target = %q", ex.Target)
			}
		}
	}
	if !found {
		t.Errorf("correction not stored")
	}

	// An empty correction carries nothing trainable.
	if err := s.ProcessFeedback(3, "question", "answer", "correction", "  ", ""); err != nil {
		t.Fatalf("ProcessFeedback: %v", err)
	}
	if db.PendingCount() != 2 {
		t.Errorf("empty correction stored, pending = %d", db.PendingCount())
	}
}

func TestWebCycleStoresAndDedupes(t *testing.T) {
	s, db, _ := testLearningService(t)
	if err := s.RunWebCycle(); err != nil {
		t.Fatalf("RunWebCycle: %v", err)
	}
	first := db.PendingCount()
	if first == 0 {
		t.Fatalf("web cycle stored nothing")
	}
	examples, err := db.GetLearningData(100, 0)
	if err != nil {
		t.Fatalf("GetLearningData: %v", err)
	}
	for _, ex := range examples {
		if ex.Source != "web_content" {
			t.Errorf("source = %q, want web_content", ex.Source)
		}
		if !strings.Contains(ex.Input, "artificial intelligence") {
			t.Errorf("question not anchored on topic: %q", ex.Input)
		}
	}

	if err := s.RunWebCycle(); err != nil {
		t.Fatalf("second RunWebCycle: %v", err)
	}
	if db.PendingCount() != first {
		t.Errorf("duplicate chunks stored on second harvest: %d -> %d", first, db.PendingCount())
	}
}

func TestChunkText(t *testing.T) {
	text := "First sentence is long enough to be kept in the output. Second sentence also carries " +
		"plenty of characters for a chunk. Third one ends things here with a few more words."
	chunks := chunkText(text)
	if len(chunks) == 0 {
		t.Fatalf("no chunks produced")
	}
	for i, c := range chunks {
		if len(c) < minChunkLen {
			t.Errorf("chunk %d below minimum length: %q", i, c)
		}
		if len(c) > maxChunkLen+1 {
			t.Errorf("chunk %d above maximum length: %d", i, len(c))
		}
	}

	if got := chunkText("too short"); got != nil {
		t.Errorf("short text produced chunks: %v", got)
	}
}

func TestCleanWebText(t *testing.T) {
	got := cleanWebText("Spaced   text[1] with\tcitations[23] and noise")
	if strings.Contains(got, "[1]") || strings.Contains(got, "[23]") {
		t.Errorf("citations survived: %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("whitespace not collapsed: %q", got)
	}
}

func TestStartStop(t *testing.T) {
	s, _, _ := testLearningService(t)
	s.Start()
	s.Stop()
}
