package models

// DefaultDocument is written to an empty backend on first start: the theme
// catalog, the chatbot tables and zeroed counters. It has no users.
func DefaultDocument() *Document {
	return &Document{
		Users: []User{},
		Themes: []Theme{
			{ID: DefaultThemeID, Name: "Default", Description: "Neutral look for every section of the portal"},
			{ID: "technology", Name: "Technology", Description: "News and guides about software and hardware"},
			{ID: "games", Name: "Games", Description: "Releases, reviews and community events"},
			{ID: "music", Name: "Music", Description: "Artists, albums and concerts"},
		},
		Chatbot: Chatbot{
			Responses: map[string]ChatbotTable{
				DefaultThemeID: {
					Questions: map[string]string{
						"hello":                  "Hello! How can I help you today?",
						"what can you do?":       "I answer short questions about the portal and its themes.",
						"how do i change theme?": "Open your profile and pick one of the available themes.",
						"who are you?":           "I am the portal assistant.",
					},
					LimitReached: "You have reached the question limit for this account.",
					NoAnswer:     "Sorry, I do not know the answer to that yet.",
				},
				"technology": {
					Questions: map[string]string{
						"what is go?":          "Go is a statically typed, compiled language designed at Google.",
						"what is a websocket?": "A full-duplex channel over a single TCP connection.",
					},
					LimitReached: "Question limit reached. Keep exploring the technology section!",
					NoAnswer:     "That one is beyond my circuits for now.",
				},
				"games": {
					Questions: map[string]string{
						"best game?": "The one you enjoy playing with friends.",
					},
					LimitReached: "Game over: no more questions left.",
					NoAnswer:     "No hint available for that level.",
				},
				"music": {
					Questions: map[string]string{
						"recommend a song": "Try something you have never listened to before.",
					},
					LimitReached: "That was the final chord, no more questions.",
					NoAnswer:     "I cannot find that track.",
				},
			},
		},
	}
}
