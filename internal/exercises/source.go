// Package exercises looks up evaluation content: the languages on disk,
// each language's exercise directories, and the per-language prompt text.
//
// Layout under the root:
//
//	<root>/<language>/<exercise>/   one directory per exercise
//	<root>/prompts/<language>.md    prompt, optional YAML frontmatter
package exercises

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const promptsDir = "prompts"

// PromptMeta holds frontmatter metadata for a language prompt
type PromptMeta struct {
	Title       string `yaml:"title"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Prompt is a language's exercise prompt with its metadata
type Prompt struct {
	Meta PromptMeta
	Text string
}

// Source reads exercise content from a directory tree, caching listings
// until invalidated (see watcher.go).
type Source struct {
	root string

	mu        sync.RWMutex
	languages []string
	byLang    map[string][]string
	prompts   map[string]*Prompt
}

// NewSource creates a Source rooted at dir
func NewSource(dir string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("exercises root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("exercises root %s is not a directory", dir)
	}
	return &Source{
		root:    dir,
		byLang:  make(map[string][]string),
		prompts: make(map[string]*Prompt),
	}, nil
}

// Root returns the exercises root directory
func (s *Source) Root() string {
	return s.root
}

// Dir returns the working directory for one exercise
func (s *Source) Dir(language, exercise string) string {
	return filepath.Join(s.root, language, exercise)
}

// Languages returns the language directories under the root
func (s *Source) Languages() ([]string, error) {
	s.mu.RLock()
	if s.languages != nil {
		langs := s.languages
		s.mu.RUnlock()
		return langs, nil
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var langs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == promptsDir || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		langs = append(langs, e.Name())
	}
	sort.Strings(langs)

	s.mu.Lock()
	s.languages = langs
	s.mu.Unlock()
	return langs, nil
}

// Exercises returns the exercise names for a language
func (s *Source) Exercises(language string) ([]string, error) {
	s.mu.RLock()
	if cached, ok := s.byLang[language]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, language))
	if err != nil {
		return nil, fmt.Errorf("listing exercises for %s: %w", language, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	s.mu.Lock()
	s.byLang[language] = names
	s.mu.Unlock()
	return names, nil
}

// Prompt returns the prompt for a language
func (s *Source) Prompt(language string) (*Prompt, error) {
	s.mu.RLock()
	if cached, ok := s.prompts[language]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.root, promptsDir, language+".md")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt for %s: %w", language, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt frontmatter for %s: %w", language, err)
	}

	prompt := &Prompt{Meta: *meta, Text: string(body)}
	s.mu.Lock()
	s.prompts[language] = prompt
	s.mu.Unlock()
	return prompt, nil
}

// Invalidate drops all cached listings and prompts
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages = nil
	s.byLang = make(map[string][]string)
	s.prompts = make(map[string]*Prompt)
}

// parseFrontmatter splits optional YAML frontmatter from the prompt body
func parseFrontmatter(content []byte) (*PromptMeta, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &PromptMeta{}, content, nil
	}

	rest := content[4:]
	end := bytes.Index(rest, []byte("\n---"))
	if end == -1 {
		return &PromptMeta{}, content, nil
	}

	var meta PromptMeta
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return nil, nil, err
	}

	body := rest[end+4:]
	body = bytes.TrimPrefix(body, []byte("\n"))
	return &meta, body, nil
}
