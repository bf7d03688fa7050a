package aimolel

import "strings"

type fallbackRule struct {
	keywords []string
	response string
}

// fallbackRules is matched top to bottom against the lowercased prompt.
// The first rule with a matching keyword wins, so the table is fully
// deterministic.
var fallbackRules = []fallbackRule{
	{
		keywords: []string{"hello", "hi ", "hey", "good morning", "good afternoon", "good evening"},
		response: "Hello! I'm still warming up my language model, but I'm happy to chat. What can I do for you?",
	},
	{
		keywords: []string{"goodbye", "bye", "see you", "farewell"},
		response: "Goodbye! It was nice talking with you.",
	},
	{
		keywords: []string{"thank"},
		response: "You're welcome! Let me know if there's anything else I can help with.",
	},
	{
		keywords: []string{"help", "assist", "support"},
		response: "I can answer questions, chat about topics you're interested in, and learn from our conversations over time.",
	},
	{
		keywords: []string{"who are you", "your name", "what are you"},
		response: "I'm a small language model that learns continuously from conversations and web content.",
	},
	{
		keywords: []string{"artificial intelligence", " ai ", "machine learning"},
		response: "Artificial intelligence is the study of systems that perform tasks normally requiring human intelligence, like understanding language.",
	},
	{
		keywords: []string{"search", "look up", "find info"},
		response: "I can fold web search results into my answers when search is enabled for the request.",
	},
	{
		keywords: []string{"api"},
		response: "The service exposes a chat endpoint; each request can carry a session identifier and an optional API key.",
	},
	{
		keywords: []string{"how", "what", "why", "when", "where", "who"},
		response: "That's a good question. My model is still loading, so I can't give you a detailed answer right now.",
	},
}

const fallbackDefault = "I'm not able to use my language model right now, but I'm still listening. Could you rephrase that?"

// fallbackResponse answers from the canned-response table when no
// model snapshot is available.
func fallbackResponse(prompt string) string {
	p := " " + strings.ToLower(strings.TrimSpace(prompt)) + " "
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(p, kw) {
				return rule.response
			}
		}
	}
	return fallbackDefault
}
