package demo

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"tlog.app/go/errors"
)

type (
	// Config is the optional demo configuration file.
	Config struct {
		// Verbosity is a tlog topics filter.
		Verbosity string `toml:"verbosity"`

		Examples map[string]ExampleConfig `toml:"examples"`
	}

	ExampleConfig struct {
		Args []int64 `toml:"args"`
	}
)

func LoadConfig(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var c Config

	err := toml.Unmarshal(data, &c)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	for name, ec := range c.Examples {
		ex, err := Find(name)
		if err != nil {
			return nil, errors.Wrap(err, "config")
		}

		if ec.Args != nil && len(ec.Args) != len(ex.Params) {
			return nil, errors.New("config: example %v: %d args, want %d", name, len(ec.Args), len(ex.Params))
		}
	}

	return &c, nil
}

// Args returns call arguments for ex, overridden by c if set.
// c may be nil.
func (c *Config) Args(ex Example) []int64 {
	if c != nil {
		if ec, ok := c.Examples[ex.Name]; ok && ec.Args != nil {
			return ec.Args
		}
	}

	return ex.Args
}
