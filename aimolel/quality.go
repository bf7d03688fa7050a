package aimolel

import "strings"

// Minimum scores an example must reach to be stored for training.
const (
	MinConversationQuality = 0.5
	MinWebQuality          = 0.6
)

var stockRefusals = map[string]bool{
	"i don't know": true,
	"i dont know":  true,
	"sorry":        true,
	"error":        true,
}

var informativeMarkers = []string{" is a ", " is an ", " refers to ", " defined as ", " consists of ", " means "}

var researchMarkers = []string{"according to", "research", "study", "studies", "scientists", "evidence"}

var commercialMarkers = []string{"buy now", "click here", "discount", "limited offer", "subscribe", "sale"}

// AssessQuality scores a conversational response on [0, 2]. The score
// starts at 1.0 and is adjusted for length, stock refusals and
// sentence-final punctuation.
func AssessQuality(userInput, aiResponse string) float64 {
	score := 1.0
	resp := strings.TrimSpace(aiResponse)
	words := strings.Fields(resp)

	if len(words) < 3 {
		score -= 0.3
	}
	if stockRefusals[strings.ToLower(resp)] {
		score -= 0.4
	}
	if len(words) > 20 {
		score += 0.2
	}
	if strings.HasSuffix(resp, ".") || strings.HasSuffix(resp, "!") || strings.HasSuffix(resp, "?") {
		score += 0.1
	}
	return clampScore(score)
}

// AssessWebQuality scores harvested web text with the conversational
// rubric plus stricter content signals: informative and research
// phrasing raise the score, commercial language lowers it.
func AssessWebQuality(topic, text string) float64 {
	score := AssessQuality(topic, text)
	lower := " " + strings.ToLower(text) + " "

	for _, marker := range informativeMarkers {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	for _, marker := range researchMarkers {
		if strings.Contains(lower, marker) {
			score += 0.2
			break
		}
	}
	for _, marker := range commercialMarkers {
		if strings.Contains(lower, marker) {
			score -= 0.3
			break
		}
	}
	return clampScore(score)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 2 {
		return 2
	}
	return s
}
