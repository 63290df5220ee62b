package models

import "fmt"

// ResourceStage is the observed lifecycle position of an image and container pair.
// Stages are ordered: Missing < Available < Built < Running.
type ResourceStage int

const (
	StageMissing   ResourceStage = iota // Image not present locally
	StageAvailable                      // Image present, no container
	StageBuilt                          // Container exists but is not running
	StageRunning                        // Container is running
)

var stageNames = map[ResourceStage]string{
	StageMissing:   "Missing",
	StageAvailable: "Available",
	StageBuilt:     "Built",
	StageRunning:   "Running",
}

func (s ResourceStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ResourceStage(%d)", int(s))
}

// AtLeast reports whether s is the same as or further along than other.
func (s ResourceStage) AtLeast(other ResourceStage) bool {
	return s >= other
}

// MarshalText renders the stage by name.
func (s ResourceStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a stage name.
func (s *ResourceStage) UnmarshalText(text []byte) error {
	for stage, name := range stageNames {
		if name == string(text) {
			*s = stage
			return nil
		}
	}
	return fmt.Errorf("unknown resource stage %q", string(text))
}
