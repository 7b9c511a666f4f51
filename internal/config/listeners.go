package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidListener = errors.New("invalid listener")

const (
	KindHash           = "hash"
	KindTransformation = "transformation"
)

// Listener describes one inbound destination and how many dispatchers serve
// it.
type Listener struct {
	Name        string        `yaml:"name"`
	Kind        string        `yaml:"kind"`
	Topic       string        `yaml:"topic"`
	Channel     string        `yaml:"channel"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

type listenersFile struct {
	Listeners []Listener `yaml:"listeners"`
}

// DefaultListeners serves one hash and one transformation destination.
func DefaultListeners() []Listener {
	return []Listener{
		{Name: "hash", Kind: KindHash, Topic: TopicHashRequest, Channel: ChannelWorker, Concurrency: 1},
		{Name: "transformation", Kind: KindTransformation, Topic: TopicTransformationRequest, Channel: ChannelWorker, Concurrency: 1},
	}
}

// LoadListeners reads the listener topology from a YAML file. An empty path
// yields DefaultListeners.
func LoadListeners(path string) ([]Listener, error) {
	if path == "" {
		return DefaultListeners(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listeners file: %w", err)
	}
	return ParseListeners(data)
}

func ParseListeners(data []byte) ([]Listener, error) {
	var f listenersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse listeners file: %w", err)
	}
	if len(f.Listeners) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrInvalidListener)
	}

	seen := make(map[string]bool, len(f.Listeners))
	for i := range f.Listeners {
		l := &f.Listeners[i]
		if l.Channel == "" {
			l.Channel = ChannelWorker
		}
		if l.Concurrency == 0 {
			l.Concurrency = 1
		}
		if err := l.validate(); err != nil {
			return nil, err
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidListener, l.Name)
		}
		seen[l.Name] = true
	}
	return f.Listeners, nil
}

func (l *Listener) validate() error {
	switch {
	case l.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidListener)
	case l.Kind != KindHash && l.Kind != KindTransformation:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidListener, l.Name, l.Kind)
	case l.Topic == "":
		return fmt.Errorf("%w: %s: topic is required", ErrInvalidListener, l.Name)
	case l.Concurrency < 0:
		return fmt.Errorf("%w: %s: concurrency must be positive", ErrInvalidListener, l.Name)
	case l.Timeout < 0:
		return fmt.Errorf("%w: %s: timeout must not be negative", ErrInvalidListener, l.Name)
	}
	return nil
}
