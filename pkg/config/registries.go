package config

import (
	"github.com/oneconcern/tablemon/pkg/handlers"
	"github.com/oneconcern/tablemon/pkg/splitfile"
	"github.com/spf13/afero"
)

// HandlerRegistry builds the registry of external handlers declared by this configuration
func (c *Config) HandlerRegistry(opts ...handlers.Option) *handlers.Registry {
	registry := handlers.NewRegistry(opts...)
	for name, spec := range c.Handlers() {
		registry.Configure(name, spec)
	}
	return registry
}

// CommandRegistry builds the registry of splitfile commands, with the custom commands declared by this configuration
func (c *Config) CommandRegistry(fs afero.Fs) *splitfile.Registry {
	registry := splitfile.NewRegistry(fs)
	for command, implementation := range c.commands {
		registry.Configure(command, implementation)
	}
	return registry
}
