package agent

import "strings"

// AgentID is the display name of an analyst. It is what the "agent" field of
// every serialized result carries.
type AgentID string

const (
	StructureAgent   AgentID = "Contract Structure Agent"
	LegalAgent       AgentID = "Legal Framework Agent"
	NegotiationAgent AgentID = "Negotiation Agent"
	ManagerAgent     AgentID = "Manager Agent"
)

// Role keys the aggregated results.
type Role string

const (
	RoleStructure   Role = "structure"
	RoleLegal       Role = "legal"
	RoleNegotiation Role = "negotiation"
	RoleManager     Role = "manager"
)

// PhaseOneRoles lists the concurrent analysts in presentation order.
var PhaseOneRoles = []Role{RoleStructure, RoleLegal, RoleNegotiation}

// FailureKind classifies a degraded Result.
type FailureKind string

const (
	FailureNone    FailureKind = ""
	FailureError   FailureKind = "failed"
	FailureTimeout FailureKind = "timeout"
)

// DegradedMarker prefixes the content of every degraded result.
const DegradedMarker = "⚠️"

// Result is the outcome of one analyst invocation. Content and Error may both
// be set when the analyst degraded.
type Result struct {
	Agent        AgentID     `json:"agent"`
	Role         Role        `json:"-"`
	AnalysisType string      `json:"analysis_type"`
	Content      string      `json:"content"`
	RunID        string      `json:"run_id,omitempty"`
	Error        string      `json:"error,omitempty"`
	Failure      FailureKind `json:"-"`
}

// Degraded reports whether the analyst failed and Content holds a notice.
func (r Result) Degraded() bool {
	return r.Failure != FailureNone || r.Error != ""
}

// AnalysisRequest is the input shared read-only by the phase-one analysts.
type AnalysisRequest struct {
	DocumentText string
}

// Aggregated holds the phase-one results keyed by role.
type Aggregated map[Role]Result

// Export is the downloadable JSON document of a finished analysis.
type Export struct {
	Structure    Result `json:"structure_analysis"`
	Legal        Result `json:"legal_analysis"`
	Negotiation  Result `json:"negotiation_analysis"`
	Consolidated Result `json:"consolidated_report"`
}

// NewExport arranges the results of one run for serialization.
func NewExport(agg Aggregated, consolidated Result) Export {
	return Export{
		Structure:    agg[RoleStructure],
		Legal:        agg[RoleLegal],
		Negotiation:  agg[RoleNegotiation],
		Consolidated: consolidated,
	}
}

// Profile describes an analyst for listings and report rendering.
type Profile struct {
	ID           AgentID `json:"id"`
	Role         Role    `json:"role"`
	AnalysisType string  `json:"analysis_type"`
	Icon         string  `json:"icon"`
	Title        string  `json:"title"`
	Summary      string  `json:"summary"`

	instructions string
	prompt       func(excerpt string) string
}

var profiles = map[Role]Profile{
	RoleStructure: {
		ID:           StructureAgent,
		Role:         RoleStructure,
		AnalysisType: "structural",
		Icon:         "🏗️",
		Title:        "Structure Analysis",
		Summary:      "Document organization & flow",
		instructions: structureInstructions,
		prompt: func(excerpt string) string {
			return "Analyze this contract's structure briefly:\n\n" + excerpt +
				"\n\nProvide a short, readable summary of the document structure."
		},
	},
	RoleLegal: {
		ID:           LegalAgent,
		Role:         RoleLegal,
		AnalysisType: "legal",
		Icon:         "⚖️",
		Title:        "Legal Analysis",
		Summary:      "Compliance & risk assessment",
		instructions: legalInstructions,
		prompt: func(excerpt string) string {
			return "Analyze this contract for legal risks briefly:\n\n" + excerpt +
				"\n\nProvide a short, readable summary of legal concerns."
		},
	},
	RoleNegotiation: {
		ID:           NegotiationAgent,
		Role:         RoleNegotiation,
		AnalysisType: "negotiation",
		Icon:         "🤝",
		Title:        "Negotiation Analysis",
		Summary:      "Leverage points & strategies",
		instructions: negotiationInstructions,
		prompt: func(excerpt string) string {
			return "Analyze this contract for negotiation opportunities briefly:\n\n" + excerpt +
				"\n\nProvide a short, readable summary of negotiation points."
		},
	},
	RoleManager: {
		ID:           ManagerAgent,
		Role:         RoleManager,
		AnalysisType: "consolidated",
		Icon:         "👔",
		Title:        "Executive Report",
		Summary:      "Consolidated executive report",
		instructions: managerInstructions,
	},
}

// ProfileFor returns the descriptor of the analyst serving role.
func ProfileFor(role Role) (Profile, bool) {
	p, ok := profiles[role]
	return p, ok
}

// Profiles returns all four analysts in presentation order.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, r := range append(append([]Role(nil), PhaseOneRoles...), RoleManager) {
		out = append(out, profiles[r])
	}
	return out
}

// Truncate returns at most limit characters of s, counted in runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
