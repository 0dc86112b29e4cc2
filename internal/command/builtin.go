package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/contract-analyzer/internal/agent"
	"github.com/nidhogg/contract-analyzer/internal/gateway"
)

// StatusProvider reports adapter connectivity.
type StatusProvider interface {
	Statuses() []gateway.AdapterStatus
}

// RegisterBuiltins registers /start, /help, /agents and /status.
func RegisterBuiltins(reg *Registry, status StatusProvider) {
	reg.Register(startCommand())
	reg.Register(helpCommand(reg))
	reg.Register(agentsCommand())
	reg.Register(statusCommand(status))
}

// ---------------------------------------------------------------------------
// /start
// ---------------------------------------------------------------------------

func startCommand() *Command {
	return &Command{
		Name:        "start",
		Description: "Welcome message & instructions",
		Usage:       "/start",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("📄 *Welcome to Contract Analysis Bot!*\n\n")
			b.WriteString("I use multiple AI agents to analyze your contract documents:\n\n")
			for _, p := range agent.Profiles() {
				fmt.Fprintf(&b, "%s *%s* - %s\n", p.Icon, shortName(p), p.Summary)
			}
			b.WriteString("\n*How to use:*\n")
			b.WriteString("Simply upload a contract file (PDF or DOCX) and I'll analyze it for you!\n\n")
			b.WriteString("_Supported formats: PDF, DOCX_")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

var agentHelp = map[agent.Role]string{
	agent.RoleStructure:   "Analyzes document organization",
	agent.RoleLegal:       "Identifies risks & compliance issues",
	agent.RoleNegotiation: "Finds leverage points",
	agent.RoleManager:     "Consolidates all findings",
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "Show this help message",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("📚 *Help - Contract Analysis Bot*\n\n*Commands:*\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Description)
			}
			b.WriteString("\n*How to analyze a contract:*\n")
			b.WriteString("1. Upload a PDF or DOCX file\n")
			b.WriteString("2. Wait for the analysis to complete\n")
			b.WriteString("3. Receive detailed reports from 4 AI agents\n")
			b.WriteString("\n*Agents explained:*\n")
			for _, p := range agent.Profiles() {
				fmt.Fprintf(&b, "%s *%s* - %s\n", p.Icon, strings.TrimSuffix(shortName(p), " Agent"), agentHelp[p.Role])
			}
			b.WriteString("\n_Analysis typically takes 30-60 seconds._")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// shortName turns "Contract Structure Agent" into "Structure Agent".
func shortName(p agent.Profile) string {
	title := strings.TrimSuffix(p.Title, " Analysis")
	if p.Role == agent.RoleManager {
		title = "Manager"
	}
	return title + " Agent"
}

// ---------------------------------------------------------------------------
// /agents
// ---------------------------------------------------------------------------

func agentsCommand() *Command {
	return &Command{
		Name:        "agents",
		Description: "List the analysis agents",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			profiles := agent.Profiles()
			var b strings.Builder
			b.WriteString("*Analysis agents:*\n")
			for _, p := range profiles {
				phase := 1
				if p.Role == agent.RoleManager {
					phase = 2
				}
				fmt.Fprintf(&b, "%s %s (%s, phase %d): %s\n", p.Icon, p.ID, p.AnalysisType, phase, p.Summary)
			}
			return &CommandResult{Content: b.String(), Data: profiles}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.Statuses()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", a.Platform, state)
				if a.Error != "" {
					fmt.Fprintf(&b, " (%s)", a.Error)
				}
				b.WriteByte('\n')
			}
			return &CommandResult{Content: b.String(), Data: adapters}, nil
		},
	}
}
