package profile

import "fmt"

// Profile is a named listening configuration. Zero-valued tuning fields fall
// back to the service defaults, so a profile only has to state what it
// changes.
type Profile struct {
	Name      string `yaml:"name"`
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	Translate bool   `yaml:"translate"`

	// Detection tuning.
	Threshold      int     `yaml:"threshold"`        // 0-255 loudness units
	SilenceMs      int     `yaml:"silence_ms"`       // debounce before a boundary
	GraceMs        int     `yaml:"grace_ms"`         // scheduling grace after debounce
	MinUtteranceMs int     `yaml:"min_utterance_ms"` // shorter utterances are dropped
	FloorRMS       float64 `yaml:"floor_rms"`        // quieter utterances are dropped

	// Backend-specific configuration passed to the engine factory.
	Config map[string]string `yaml:"config"`
}

// Validate checks the tuning ranges.
func (p *Profile) Validate() error {
	if p.Threshold < 0 || p.Threshold > 255 {
		return fmt.Errorf("profile %q: threshold %d out of range 0-255", p.Name, p.Threshold)
	}
	if p.SilenceMs < 0 {
		return fmt.Errorf("profile %q: negative silence_ms", p.Name)
	}
	if p.GraceMs < 0 {
		return fmt.Errorf("profile %q: negative grace_ms", p.Name)
	}
	if p.MinUtteranceMs < 0 {
		return fmt.Errorf("profile %q: negative min_utterance_ms", p.Name)
	}
	if p.FloorRMS < 0 || p.FloorRMS > 1 {
		return fmt.Errorf("profile %q: floor_rms %v out of range 0-1", p.Name, p.FloorRMS)
	}
	return nil
}
