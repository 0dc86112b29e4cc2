package agent

import (
	"context"

	"go.uber.org/zap"
)

// Manager consolidates the phase-one results into an executive report.
type Manager struct {
	profile Profile
	gen     Generator
	cfg     Config
	logger  *zap.Logger
}

// NewManager builds the consolidating analyst.
func NewManager(gen Generator, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{profile: profiles[RoleManager], gen: gen, cfg: cfg.normalize(), logger: logger}
}

func (m *Manager) ID() AgentID      { return m.profile.ID }
func (m *Manager) Profile() Profile { return m.profile }

// Consolidate embeds the three phase-one contents verbatim, without another
// truncation pass, and asks for the executive summary.
func (m *Manager) Consolidate(ctx context.Context, agg Aggregated) Result {
	prompt := consolidationPrompt(
		contentOr(agg, RoleStructure, noStructureAnalysis),
		contentOr(agg, RoleLegal, noLegalAnalysis),
		contentOr(agg, RoleNegotiation, noNegotiationAnalysis),
	)
	return invoke(ctx, m.gen, m.cfg, m.profile, prompt, "Consolidation failed", m.logger)
}

func contentOr(agg Aggregated, role Role, placeholder string) string {
	r, ok := agg[role]
	if !ok || blank(r.Content) {
		return placeholder
	}
	return r.Content
}
