package commands

import "strings"

// AutoResponse is one canned reply. Trigger is matched as a case-folded
// substring of the message body.
type AutoResponse struct {
	Trigger string
	Reply   string
}

// AutoResponses is an ordered table; the first matching trigger wins.
type AutoResponses []AutoResponse

// DefaultAutoResponses returns the stock greeting table.
func DefaultAutoResponses(prefix string) AutoResponses {
	return AutoResponses{
		{Trigger: "hello", Reply: "👋 Hello! How can I help you today? Type " + prefix + "help to see available commands."},
		{Trigger: "hi", Reply: "👋 Hi there! Type " + prefix + "help to see what I can do."},
		{Trigger: "hey", Reply: "👋 Hey! I'm here to help. Use " + prefix + "help to see available commands."},
		{Trigger: "good morning", Reply: "🌅 Good morning! Hope you have a great day ahead!"},
		{Trigger: "good afternoon", Reply: "☀️ Good afternoon! How's your day going?"},
		{Trigger: "good evening", Reply: "🌆 Good evening! How can I assist you?"},
		{Trigger: "good night", Reply: "🌙 Good night! Sweet dreams!"},
		{Trigger: "thank you", Reply: "😊 You're welcome! Happy to help!"},
		{Trigger: "thanks", Reply: "😊 You're welcome!"},
		{Trigger: "bye", Reply: "👋 Goodbye! Have a great day!"},
		{Trigger: "goodbye", Reply: "👋 Goodbye! Take care!"},
	}
}

// Match returns the first entry whose trigger occurs in text.
func (t AutoResponses) Match(text string) (AutoResponse, bool) {
	folded := strings.ToLower(strings.TrimSpace(text))
	for _, entry := range t {
		if entry.Trigger != "" && strings.Contains(folded, strings.ToLower(entry.Trigger)) {
			return entry, true
		}
	}
	return AutoResponse{}, false
}
