package config

import (
	"errors"

	"github.com/gtonic/counsel/pkg/chain/assistant"
	"github.com/gtonic/counsel/pkg/provider"
)

type chainConfig struct {
	Type string `yaml:"type"`

	// Model references a registered completer.
	Model string `yaml:"model,omitempty"`

	Temperature *float32 `yaml:"temperature,omitempty"`

	Messages []messageConfig `yaml:"messages,omitempty"`

	Memory *memoryConfig `yaml:"memory,omitempty"`
}

type messageConfig struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

func (c *Config) registerChains(f *configFile) error {
	for name, cfg := range f.Chains {
		switch cfg.Type {
		case "assistant":
			completer, err := c.Completer(cfg.Model)

			if err != nil {
				return err
			}

			var messages []provider.Message

			for _, m := range cfg.Messages {
				messages = append(messages, provider.Message{
					Role:    provider.MessageRole(m.Role),
					Content: []provider.Content{provider.TextContent(m.Content)},
				})
			}

			options := []assistant.Option{
				assistant.WithCompleter(completer),
				assistant.WithMessages(messages...),
			}

			if cfg.Temperature != nil {
				options = append(options, assistant.WithTemperature(*cfg.Temperature))
			}

			if cfg.Memory != nil {
				manager, err := c.createMemory(cfg.Memory)

				if err != nil {
					return err
				}

				options = append(options, assistant.WithMemory(manager))
			}

			ch, err := assistant.New(options...)

			if err != nil {
				return err
			}

			if err := c.RegisterChain(name, ch); err != nil {
				return err
			}

		default:
			return errors.New("invalid chain type: " + cfg.Type)
		}
	}

	return nil
}
