package server

// AgentCard describes the agent to discovering clients.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Capabilities       Capabilities `json:"capabilities"`
	Skills             []Skill      `json:"skills"`
}

type Capabilities struct {
	Streaming  bool     `json:"streaming"`
	Extensions []string `json:"extensions,omitempty"`
}

type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// RestaurantCard returns the card of the restaurant finder served at baseURL.
func RestaurantCard(baseURL, version string, ui bool) *AgentCard {
	c := &AgentCard{
		Name:               "Restaurant Agent",
		Description:        "This agent helps find restaurants based on user criteria.",
		URL:                baseURL,
		Version:            version,
		DefaultInputModes:  []string{"text", "text/plain"},
		DefaultOutputModes: []string{"text", "text/plain", "text/event-stream"},
		Capabilities:       Capabilities{Streaming: true},
		Skills: []Skill{{
			ID:          "find_restaurants",
			Name:        "Find Restaurants Tool",
			Description: "Helps find restaurants based on user criteria (e.g., cuisine, location).",
			Tags:        []string{"restaurant", "finder"},
			Examples:    []string{"Find me the top 10 chinese restaurants in the US"},
		}},
	}
	if ui {
		c.Capabilities.Extensions = []string{"a2ui"}
	}
	return c
}
