package services

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/omnifin/backoffice/pkg/models"
	"github.com/omnifin/backoffice/pkg/repositories"
)

// seedFile is the layout of the seed prompts YAML file:
//
//	prompts:
//	  - name: welcome_message
//	    category: loan
//	    prompt_type: assistant
//	    content: "Hi! Let's talk about your {order_type}."
type seedFile struct {
	Prompts []seedPrompt `yaml:"prompts"`
}

type seedPrompt struct {
	Name       string `yaml:"name"`
	Category   string `yaml:"category"`
	PromptType string `yaml:"prompt_type"`
	Content    string `yaml:"content"`
}

// ParseSeedPrompts decodes and validates a seed file.
func ParseSeedPrompts(r io.Reader) ([]*models.Prompt, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed prompts: %w", err)
	}

	prompts := make([]*models.Prompt, 0, len(file.Prompts))
	for i, sp := range file.Prompts {
		if sp.PromptType == "" {
			sp.PromptType = "assistant"
		}
		prompt := &models.Prompt{
			Name:       sp.Name,
			Category:   sp.Category,
			PromptType: sp.PromptType,
			Content:    sp.Content,
			Variables:  models.ExtractVariables(sp.Content),
			IsActive:   true,
			Version:    1,
		}
		if err := validatePrompt(prompt); err != nil {
			return nil, fmt.Errorf("prompt %d (%s): %w", i, sp.Name, err)
		}
		prompts = append(prompts, prompt)
	}
	return prompts, nil
}

// SeedPrompts loads global prompts from path into the store. Existing prompts are
// left untouched. ctx must carry a database scope.
func SeedPrompts(ctx context.Context, repo repositories.PromptRepository, path string, logger *zap.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed prompts: %w", err)
	}
	defer f.Close()

	prompts, err := ParseSeedPrompts(f)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, prompt := range prompts {
		ok, err := repo.UpsertGlobal(ctx, prompt)
		if err != nil {
			return inserted, fmt.Errorf("seed prompt %s: %w", prompt.Name, err)
		}
		if ok {
			inserted++
		}
	}
	logger.Info("Seed prompts loaded",
		zap.String("path", path),
		zap.Int("total", len(prompts)),
		zap.Int("inserted", inserted))
	return inserted, nil
}
