// Agent profiles describing the shape of generated conversations
package sessiongen

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EntrySpanName is the A2A request handler span that opens every turn.
const EntrySpanName = "a2a.server.request_handlers.default_request_handler.DefaultRequestHandler._run_event_stream"

// Profile describes one agent and the turns of a conversation with it.
type Profile struct {
	Agent   string        `yaml:"agent"`
	Turns   int           `yaml:"turns"`
	TurnGap time.Duration `yaml:"turn_gap"`
	Entry   Distribution  `yaml:"entry"`
	LLM     LLM           `yaml:"llm"`
	Tools   []Tool        `yaml:"tools"`
}

// LLM is the model the agent calls before and after each tool.
type LLM struct {
	Model    string       `yaml:"model"`
	Duration Distribution `yaml:"duration"`
}

// Tool is a tool the agent may call once per turn.
type Tool struct {
	Name      string       `yaml:"name"`
	Duration  Distribution `yaml:"duration"`
	ErrorRate float64      `yaml:"error_rate"`
}

// DefaultProfile is a weather agent with two tools.
func DefaultProfile() Profile {
	return Profile{
		Agent:   "weather-agent",
		Turns:   3,
		TurnGap: 20 * time.Second,
		Entry:   Distribution{Mean: 5 * time.Millisecond, StdDev: time.Millisecond},
		LLM: LLM{
			Model:    "gpt-4o",
			Duration: Distribution{Mean: 700 * time.Millisecond, StdDev: 200 * time.Millisecond},
		},
		Tools: []Tool{
			{Name: "get_forecast", Duration: Distribution{Mean: 250 * time.Millisecond, StdDev: 80 * time.Millisecond}, ErrorRate: 0.1},
			{Name: "geocode", Duration: Distribution{Mean: 40 * time.Millisecond, StdDev: 10 * time.Millisecond}},
		},
	}
}

// LoadProfile reads a YAML profile; unset fields keep their defaults.
func LoadProfile(path string) (Profile, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied profile path is expected
	if err != nil {
		return Profile{}, fmt.Errorf("opening profile: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close on read-only file
	return ReadProfile(f)
}

// ReadProfile decodes a profile from r over DefaultProfile.
func ReadProfile(r io.Reader) (Profile, error) {
	p := DefaultProfile()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Profile{}, fmt.Errorf("parsing profile: %w", err)
	}
	return p, p.Validate()
}

// Validate checks the profile can generate sessions.
func (p Profile) Validate() error {
	if p.Agent == "" {
		return fmt.Errorf("profile: agent is required")
	}
	if p.Turns <= 0 {
		return fmt.Errorf("profile: turns must be positive, got %d", p.Turns)
	}
	if p.TurnGap < 0 {
		return fmt.Errorf("profile: turn_gap must not be negative, got %s", p.TurnGap)
	}
	if p.LLM.Model == "" {
		return fmt.Errorf("profile: llm.model is required")
	}
	for i, t := range p.Tools {
		if t.Name == "" {
			return fmt.Errorf("profile: tools[%d]: name is required", i)
		}
		if t.ErrorRate < 0 || t.ErrorRate > 1 {
			return fmt.Errorf("profile: tool %s: error_rate must be between 0 and 1, got %g", t.Name, t.ErrorRate)
		}
	}
	return nil
}
