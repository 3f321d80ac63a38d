package assistant

// Profile describes the assistant the page talks to.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Greeting     string `json:"greeting"`
	SystemPrompt string `json:"-"`
	Voice        string `json:"voice,omitempty"`
}

// DefaultID is the profile used when a session does not ask for one.
const DefaultID = "mr-gyb"

// Seed provides the built-in profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:       DefaultID,
			Name:     "MR GYB AI Chatbot",
			Greeting: "Hello! I'm MR GYB AI Chatbot. How can I assist you today?",
			SystemPrompt: "You are MR GYB AI Chatbot, a friendly and concise assistant. " +
				"Answer in plain sentences that read well aloud, avoid markdown tables and code fences unless asked.",
			Voice: "alloy",
		},
	}
}
