// Package config loads and hot-reloads the gateway's on-disk YAML
// configuration, following the teacher's ai.LoadConfig pattern generalized
// to the full set of EP accounts this gateway answers for.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Account is one EP account's resolved, static configuration (spec's
// ResolvedAccount minus the runtime-only Envelope/Client handles, which the
// composition root attaches after load).
type Account struct {
	Name           string `yaml:"name"`
	CorpID         string `yaml:"corp_id"`
	AIBotID        string `yaml:"aibot_id,omitempty"`
	AgentID        string `yaml:"agent_id,omitempty"`
	Secret         string `yaml:"secret,omitempty"`
	Token          string `yaml:"token"`
	EncodingAESKey string `yaml:"encoding_aes_key"`
	DefaultModel   string `yaml:"default_model,omitempty"`

	// WelcomeText replies to a Bot-channel enter_chat event (spec §4.6).
	// Empty means an empty acknowledgement.
	WelcomeText string `yaml:"welcome_text,omitempty"`
	// PlaceholderContent overrides the default "1" streamPlaceholderContent
	// returned for a fresh active_new batch (spec §4.6).
	PlaceholderContent string `yaml:"placeholder_content,omitempty"`
}

// ModelConfig mirrors the teacher's ai.ModelConfig: one LLM backend entry.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	ModelName   string  `yaml:"model_name"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Config is the whole on-disk configuration file.
type Config struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ProxyURL     string        `yaml:"proxy_url,omitempty"`
	DefaultModel string        `yaml:"default_model"`
	Models       []ModelConfig `yaml:"models"`
	Accounts     []Account     `yaml:"accounts"`
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Watcher holds the hot-reloadable Config plus the fsnotify watch that
// keeps it current.
type Watcher struct {
	mu     sync.RWMutex
	path   string
	cfg    *Config
	logger *logrus.Logger
}

// NewWatcher loads path once and starts watching it for changes. Reload
// failures are logged and the previous Config is kept in place.
func NewWatcher(path string, logger *logrus.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, cfg: cfg, logger: logger}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go w.loop(fsw)
	return w, nil
}

func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.logger != nil {
					w.logger.WithError(err).Warn("config: reload failed, keeping previous config")
				}
				continue
			}
			w.mu.Lock()
			w.cfg = cfg
			w.mu.Unlock()
			if w.logger != nil {
				w.logger.Info("config: reloaded")
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.WithError(err).Warn("config: watcher error")
			}
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// AccountByCorpID looks up an Account by its corp id.
func (c *Config) AccountByCorpID(corpID string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.CorpID == corpID {
			return a, true
		}
	}
	return Account{}, false
}
