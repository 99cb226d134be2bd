package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type YAMLLoader struct{}

func NewYAMLLoader() *YAMLLoader {
	return &YAMLLoader{}
}

// LoadFromDir reads and merges every catalog file in dir. A file that fails
// to parse or validate fails the whole load so a reload never applies half a
// catalog.
func (l *YAMLLoader) LoadFromDir(dir string) (Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Document{}, fmt.Errorf("read directory: %w", err)
	}

	var merged Document
	files := 0

	for _, entry := range entries {
		if entry.IsDir() || !l.isCatalogFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		doc, err := l.loadFile(path)
		if err != nil {
			return Document{}, fmt.Errorf("%s: %w", entry.Name(), err)
		}

		merged.merge(doc)
		files++
	}

	if files == 0 {
		log.Warn().Str("dir", dir).Msg("no catalog files found - every tool result will be treated as untrusted")
	}

	if err := validate(merged); err != nil {
		return Document{}, err
	}

	return merged, nil
}

func (l *YAMLLoader) loadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}

	return ParseDocument(data)
}

// ParseDocument decodes one catalog file, rejecting unknown keys.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("parse yaml: %w", err)
	}
	return doc, nil
}

func (l *YAMLLoader) isCatalogFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
