package cli

import (
	"context"
	"fmt"

	"github.com/crossforge/crossforge/internal/registry"
)

// Represents the 'crossforge targets' command.
type TargetsCmd struct {
	Config string `short:"f" default:"crossforge.yaml" help:"Path to the target registry file." placeholder:"PATH"`
}

// Executes the targets command.
//
// Prints the declared targets in declaration order, one per line, with the
// base image and build command of each.
func (c *TargetsCmd) Run(ctx context.Context) error {
	cfg, err := registry.Load(c.Config)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Targets)
	if err != nil {
		return err
	}

	for _, target := range reg.Targets() {
		fmt.Printf("%s\t%s\t%s\n", target.Name, target.Environment.Image, target.Build)
	}
	return nil
}
