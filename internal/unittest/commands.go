package unittest

// defaultCommands is the ordered shell command list per language, run in
// the exercise directory. First non-zero exit or timeout fails the task.
var defaultCommands = map[string][]string{
	"go":         {"go test ./..."},
	"python":     {"python3 -m pytest -q"},
	"javascript": {"npm test --silent"},
	"rust":       {"cargo test --quiet"},
	"java":       {"./gradlew test --console=plain -q"},
	"cpp":        {"cmake -S . -B build -DCMAKE_BUILD_TYPE=Release", "cmake --build build", "ctest --test-dir build --output-on-failure"},
}

// Commands returns the command list for a language, preferring overrides
func (r *Runner) Commands(language string) []string {
	if cmds, ok := r.overrides[language]; ok && len(cmds) > 0 {
		return cmds
	}
	return defaultCommands[language]
}

// Languages returns the languages with a default command list
func Languages() []string {
	langs := make([]string, 0, len(defaultCommands))
	for l := range defaultCommands {
		langs = append(langs, l)
	}
	return langs
}
