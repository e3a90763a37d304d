package vtube

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const SoundTrackerParameter = "CustomSoundTracker"

// Profile is the static avatar configuration: declared parameters and the
// expression name to hotkey ID table.
type Profile struct {
	Parameters  []Descriptor      `yaml:"parameters"`
	Expressions map[string]string `yaml:"expressions"`
}

func DefaultProfile() Profile {
	return Profile{
		Parameters: []Descriptor{{
			Name:        SoundTrackerParameter,
			Explanation: "Tracks custom sound.",
			Min:         0,
			Max:         100,
			Default:     0,
		}},
		Expressions: map[string]string{},
	}
}

// LoadProfile reads a YAML profile. An empty path yields DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read avatar profile: %w", err)
	}
	return ParseProfile(raw)
}

func ParseProfile(raw []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse avatar profile: %w", err)
	}
	if len(p.Parameters) == 0 {
		p.Parameters = DefaultProfile().Parameters
	}
	if p.Expressions == nil {
		p.Expressions = map[string]string{}
	}
	for _, d := range p.Parameters {
		if err := d.Validate(); err != nil {
			return Profile{}, fmt.Errorf("avatar profile parameter %q: %w", d.Name, err)
		}
	}
	return p, nil
}

// Has reports whether name is among the declared parameters.
func (p Profile) Has(name string) bool {
	for _, d := range p.Parameters {
		if d.Name == name {
			return true
		}
	}
	return false
}
