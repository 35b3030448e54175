package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/finops/internal/approval"
)

// ChainSaver stores an approval chain and refreshes cached configuration.
type ChainSaver interface {
	SaveChain(ctx context.Context, orgID int64, fc approval.FeatureConfig) error
}

// ChainFile is the JSON layout accepted by the chain command.
//
//	{"feature":"bills","levels":{"reviewed":["supervisor"],"approved1":["finance"]},"final":["controller"]}
//
// Listed levels are enabled; omitted levels are disabled.
type ChainFile struct {
	Feature string              `json:"feature"`
	Levels  map[string][]string `json:"levels"`
	Final   []string            `json:"final"`
}

// ChainOptions configures one chain command run.
type ChainOptions struct {
	OrganizationID int64
	Source         io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

// ChainCLI loads approval chains from JSON.
type ChainCLI struct {
	saver ChainSaver
}

// NewChainCLI constructs the helper.
func NewChainCLI(saver ChainSaver) (*ChainCLI, error) {
	if saver == nil {
		return nil, errors.New("chain cli: saver required")
	}
	return &ChainCLI{saver: saver}, nil
}

// Parse decodes and checks a chain file.
func Parse(r io.Reader) (approval.FeatureConfig, error) {
	var file ChainFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return approval.FeatureConfig{}, fmt.Errorf("chain cli: decode: %w", err)
	}
	if file.Feature == "" {
		return approval.FeatureConfig{}, errors.New("chain cli: feature required")
	}
	fc := approval.FeatureConfig{Feature: file.Feature, Levels: map[approval.State]approval.LevelConfig{}, FinalRoles: file.Final}
	for name, roles := range file.Levels {
		level := approval.State(name)
		if !level.IsLevel() {
			return approval.FeatureConfig{}, fmt.Errorf("chain cli: unknown level %q", name)
		}
		fc.Levels[level] = approval.LevelConfig{Enabled: true, Roles: roles}
	}
	return fc, nil
}

// Command runs the chain command and returns the process exit code.
func (c *ChainCLI) Command(ctx context.Context, opts ChainOptions) int {
	if opts.OrganizationID <= 0 {
		fmt.Fprintln(opts.Stderr, "organization id must be positive")
		return 2
	}
	fc, err := Parse(opts.Source)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		return 2
	}
	if err := c.saver.SaveChain(ctx, opts.OrganizationID, fc); err != nil {
		fmt.Fprintln(opts.Stderr, "save chain:", err)
		return 1
	}
	initial := approval.ResolveInitialState(fc)
	fmt.Fprintf(opts.Stdout, "saved %s chain for organization %d (%d levels, documents start %s)\n",
		fc.Feature, opts.OrganizationID, len(fc.Levels), initial)
	return 0
}
