package reasoning

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is one entry of the prompt catalog
type Prompt struct {
	ID           string                 `yaml:"id"`
	System       string                 `yaml:"system"`
	Instructions string                 `yaml:"instructions"`
	Temperature  float64                `yaml:"temperature"`
	Schema       map[string]interface{} `yaml:"schema"`
}

// UserMessage renders the instructions followed by the input as JSON
func (p Prompt) UserMessage(input interface{}) (string, error) {
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt input: %w", err)
	}
	return p.Instructions + "\nInput:\n" + string(payload), nil
}

type catalogFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

// Catalog holds prompts keyed by id. Safe for concurrent use; Watch swaps the
// whole set atomically when the backing file changes.
type Catalog struct {
	mu      sync.RWMutex
	prompts map[string]Prompt
	path    string
}

// LoadCatalog reads prompts from path, or the built-in set when path is empty
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
		}
		data = b
	}

	prompts, err := parseCatalog(data)
	if err != nil {
		return nil, err
	}

	log.Printf("📚 [PROMPTS] Loaded %d prompts", len(prompts))
	return &Catalog{prompts: prompts, path: path}, nil
}

func parseCatalog(data []byte) (map[string]Prompt, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}

	prompts := make(map[string]Prompt, len(file.Prompts))
	for _, p := range file.Prompts {
		if p.ID == "" {
			return nil, fmt.Errorf("prompt catalog entry without id")
		}
		if _, dup := prompts[p.ID]; dup {
			return nil, fmt.Errorf("duplicate prompt id %q", p.ID)
		}
		prompts[p.ID] = p
	}

	for _, required := range []string{PromptIntentPredict, PromptDraftGenerate, PromptLearningAnalyze} {
		if _, ok := prompts[required]; !ok {
			return nil, fmt.Errorf("prompt catalog is missing %q", required)
		}
	}
	return prompts, nil
}

// Get returns the prompt with id
func (c *Catalog) Get(id string) (Prompt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[id]
	return p, ok
}

// Reload re-reads the catalog file. A bad file keeps the previous prompts.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read prompt catalog: %w", err)
	}
	prompts, err := parseCatalog(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.prompts = prompts
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever its file changes, until ctx is done.
// Does nothing for the built-in catalog.
func (c *Catalog) Watch(ctx context.Context) {
	if c.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  [PROMPTS] Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(c.path)
	if err != nil {
		log.Printf("⚠️  [PROMPTS] Failed to get absolute path for %s: %v", c.path, err)
		return
	}

	// Watch the directory: editors replace files rather than writing in place
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  [PROMPTS] Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  [PROMPTS] Watching %s for changes", c.path)

	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, func() {
				if err := c.Reload(); err != nil {
					log.Printf("❌ [PROMPTS] Reload failed, keeping previous prompts: %v", err)
					return
				}
				log.Printf("🔄 [PROMPTS] Reloaded %s", c.path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  [PROMPTS] Watcher error: %v", err)
		}
	}
}
