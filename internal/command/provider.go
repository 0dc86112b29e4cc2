package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/contract-analyzer/internal/provider"
)

// ProviderLister exposes the configured LLM providers.
type ProviderLister interface {
	ListProviders() []provider.Provider
	DefaultID() string
}

// ProviderInfo is the health of one provider.
type ProviderInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

const providerCheckTimeout = 10 * time.Second

// RegisterProviderCommands registers /providers.
func RegisterProviderCommands(reg *Registry, lister ProviderLister) {
	reg.Register(providersCommand(lister))
}

func providersCommand(lister ProviderLister) *Command {
	return &Command{
		Name:        "providers",
		Description: "Check the LLM providers behind the agents",
		Usage:       "/providers",
		Handler: func(ctx context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			infos := CheckProviders(ctx, lister)
			if len(infos) == 0 {
				return &CommandResult{Content: "No providers configured."}, nil
			}
			var sb strings.Builder
			sb.WriteString("LLM providers:\n")
			for _, p := range infos {
				marker := "  "
				if p.IsDefault {
					marker = "* "
				}
				state := "✅ healthy"
				if !p.Healthy {
					state = "❌ " + p.Error
				}
				sb.WriteString(fmt.Sprintf("%s%s (%s): %s\n", marker, p.Name, p.ID, state))
			}
			return &CommandResult{Content: sb.String(), Data: infos}, nil
		},
	}
}

// CheckProviders runs a health check against every provider in turn.
func CheckProviders(ctx context.Context, lister ProviderLister) []ProviderInfo {
	def := lister.DefaultID()
	providers := lister.ListProviders()
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		info := ProviderInfo{ID: p.ID(), Name: p.Name(), IsDefault: p.ID() == def, Healthy: true}
		cctx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
		if err := p.HealthCheck(cctx); err != nil {
			info.Healthy = false
			info.Error = err.Error()
		}
		cancel()
		out = append(out, info)
	}
	return out
}
