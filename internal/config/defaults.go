package config

// Action defaults that differ per routine. The original tool derived these
// inline at each call site; they are centralized here so every routine sees
// the same values.
const (
	DefaultProfile     = "opt"
	DefaultCommand     = "$cmd"
	DefaultRunDuration = 60 // native runs
	TestRunDuration    = 10 // tests and CI solo runs
)

// ApplyDefaults fills optional fields in place. It runs once, right after
// loading, before Validate.
func (m *Model) ApplyDefaults() {
	if m.Profile == "" {
		m.Profile = DefaultProfile
	}
	if m.Action.Command == "" {
		m.Action.Command = DefaultCommand
	}
	if m.Action.RunDuration == 0 {
		switch m.Action.Name {
		case "tests", "ci":
			m.Action.RunDuration = TestRunDuration
		default:
			m.Action.RunDuration = DefaultRunDuration
		}
	}
}
