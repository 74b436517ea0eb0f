package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/zhongli1990/saas-codex/internal/log"
)

// Skill scopes.
const (
	ScopeGlobal    = "global"
	ScopeWorkspace = "workspace"
)

const skillFile = "SKILL.md"

// Skill is a set of instructions loaded from a SKILL.md file.
type Skill struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description"`
	AllowedTools           []string `json:"allowedTools,omitempty"`
	DisableModelInvocation bool     `json:"disableModelInvocation"`
	UserInvocable          bool     `json:"userInvocable"`
	Instructions           string   `json:"-"`
	Path                   string   `json:"path"`
	Scope                  string   `json:"scope"`
}

type skillFrontmatter struct {
	Name                   string    `yaml:"name"`
	Description            string    `yaml:"description"`
	AllowedTools           yaml.Node `yaml:"allowed-tools"`
	DisableModelInvocation bool      `yaml:"disable-model-invocation"`
	UserInvocable          *bool     `yaml:"user-invocable"`
}

// LoadSkill reads dir/SKILL.md. The second result is false when the
// directory has no readable skill file.
func LoadSkill(dir string) (Skill, bool) {
	data, err := os.ReadFile(filepath.Join(dir, skillFile))
	if err != nil {
		return Skill{}, false
	}
	content := string(data)
	skill := Skill{
		Name:          filepath.Base(dir),
		UserInvocable: true,
		Instructions:  content,
		Path:          dir,
	}

	rest, ok := strings.CutPrefix(content, "---")
	if !ok {
		return skill, true
	}
	parts := strings.SplitN(rest, "---", 2)
	if len(parts) != 2 {
		return skill, true
	}
	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(parts[0]), &fm); err != nil {
		log.Warnf("skill %s: invalid frontmatter: %v", dir, err)
		return skill, true
	}

	if fm.Name != "" {
		skill.Name = fm.Name
	}
	skill.Description = fm.Description
	skill.AllowedTools = allowedTools(&fm.AllowedTools)
	skill.DisableModelInvocation = fm.DisableModelInvocation
	if fm.UserInvocable != nil {
		skill.UserInvocable = *fm.UserInvocable
	}
	skill.Instructions = strings.TrimSpace(parts[1])
	return skill, true
}

// allowedTools accepts both "Read, Grep" and a YAML sequence.
func allowedTools(node *yaml.Node) []string {
	var tools []string
	switch node.Kind {
	case yaml.ScalarNode:
		for _, t := range strings.Split(node.Value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tools = append(tools, t)
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if t := strings.TrimSpace(item.Value); t != "" {
				tools = append(tools, t)
			}
		}
	}
	return tools
}

// LoadSkillsFromDir loads every skill directory under dir, sorted by name.
func LoadSkillsFromDir(dir, scope string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var skills []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if skill, ok := LoadSkill(filepath.Join(dir, e.Name())); ok {
			skill.Scope = scope
			skills = append(skills, skill)
		}
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// Catalog caches the global skills and merges workspace skills on demand.
type Catalog struct {
	globalDir string

	mu     sync.Mutex
	global []Skill
	loaded bool
}

// NewCatalog creates a catalog rooted at globalDir.
func NewCatalog(globalDir string) *Catalog {
	return &Catalog{globalDir: globalDir}
}

// Global returns the global skills, loading them if the cache is cold.
func (c *Catalog) Global() []Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.global = LoadSkillsFromDir(c.globalDir, ScopeGlobal)
		c.loaded = true
	}
	return append([]Skill(nil), c.global...)
}

// Invalidate drops the cached global skills.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.global = nil
	c.mu.Unlock()
}

// Load returns global skills overlaid by the skills in
// workdir/.claude/skills; a workspace skill replaces a global one with the
// same name.
func (c *Catalog) Load(workdir string) []Skill {
	byName := make(map[string]Skill)
	for _, s := range c.Global() {
		byName[s.Name] = s
	}
	for _, s := range LoadSkillsFromDir(filepath.Join(workdir, ".claude", "skills"), ScopeWorkspace) {
		byName[s.Name] = s
	}
	skills := make([]Skill, 0, len(byName))
	for _, s := range byName {
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// Watch invalidates the cache whenever the global skills directory or one of
// its skill directories changes. It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.globalDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.globalDir, err)
	}
	c.watchSubdirs(watcher)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			log.Debugf("skills changed: %s %s", ev.Op, ev.Name)
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			c.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("skills watcher error: %v", err)
		}
	}
}

func (c *Catalog) watchSubdirs(watcher *fsnotify.Watcher) {
	entries, err := os.ReadDir(c.globalDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(c.globalDir, e.Name()))
		}
	}
}

const basePrompt = `You are an AI coding assistant with access to a workspace directory. You can read files, write files, list directories, and execute bash commands to help the user with their coding tasks.

When working on code:
1. First explore the codebase to understand its structure
2. Make targeted, minimal changes
3. Test your changes when possible
4. Explain what you're doing

Always use the available tools to interact with the filesystem rather than asking the user to do it manually.`

// BuildSystemPrompt appends the loaded skills to the base prompt.
func BuildSystemPrompt(skills []Skill) string {
	if len(skills) == 0 {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Available Skills\n\n")
	b.WriteString("The following skills are available to help with specific tasks:\n\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "### %s\n", s.Name)
		if s.Description != "" {
			fmt.Fprintf(&b, "**Description**: %s\n\n", s.Description)
		}
		if s.Instructions != "" {
			b.WriteString(s.Instructions)
			b.WriteString("\n\n")
		}
		b.WriteString("---\n\n")
	}
	return b.String()
}
