// Package prompt generates the task prompt an agent reads at startup. The
// engine treats prompts as opaque text; callers may supply a pre-built
// prompt to bypass generation entirely.
package prompt

import (
	"fmt"
	"strings"

	"github.com/vibesuite/orchestrator/internal/store"
)

// Context carries everything a builder may use to produce a prompt.
type Context struct {
	Kind           store.AgentKind
	TaskID         string
	Title          string
	Description    string
	Repo           string
	Plan           string
	PRNumber       int
	PRURL          string
	Branch         string
	DeploymentURL  string
	FocusAreas     []string
	ReviewFeedback string
}

// Builder produces a prompt for an agent run.
type Builder interface {
	Build(ctx Context) string
}

// TemplateBuilder is the default builder with a fixed template per agent
// kind.
type TemplateBuilder struct{}

// NewTemplateBuilder creates the default prompt builder.
func NewTemplateBuilder() *TemplateBuilder {
	return &TemplateBuilder{}
}

// Build renders the prompt for the given context.
func (b *TemplateBuilder) Build(ctx Context) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Task %s: %s\n\n", ctx.TaskID, ctx.Title)
	if ctx.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", ctx.Description)
	}
	if ctx.Repo != "" {
		fmt.Fprintf(&sb, "Repository: %s\n\n", ctx.Repo)
	}

	switch ctx.Kind {
	case store.AgentKindTriage:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the triage agent. Investigate the task against the repository, ")
		sb.WriteString("decide whether work is needed, and either produce an execution plan or close the task.\n")
	case store.AgentKindCoding:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the implementation agent. Implement the task on your working branch ")
		sb.WriteString("and open a pull request when done.\n")
		if ctx.Plan != "" {
			fmt.Fprintf(&sb, "\n## Execution plan\n%s\n", ctx.Plan)
		}
		if ctx.ReviewFeedback != "" {
			fmt.Fprintf(&sb, "\n## Review feedback to address\n%s\n", ctx.ReviewFeedback)
		}
	case store.AgentKindReviewer:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the review agent. Review the pull request for correctness, style, and safety.\n")
		if ctx.PRURL != "" {
			fmt.Fprintf(&sb, "\nPull request: %s (#%d), branch %s\n", ctx.PRURL, ctx.PRNumber, ctx.Branch)
		}
	case store.AgentKindDeployer:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the deployment agent. Build and deploy the current head of the repository.\n")
	case store.AgentKindVerifier:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the verification agent. Exercise the deployed application and confirm the task's acceptance criteria.\n")
		if ctx.DeploymentURL != "" {
			fmt.Fprintf(&sb, "\nDeployment: %s\n", ctx.DeploymentURL)
		}
	case store.AgentKindAuditor:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the audit agent. Explore the deployed application and report findings.\n")
		if ctx.DeploymentURL != "" {
			fmt.Fprintf(&sb, "\nDeployment: %s\n", ctx.DeploymentURL)
		}
		if len(ctx.FocusAreas) > 0 {
			fmt.Fprintf(&sb, "\nFocus areas: %s\n", strings.Join(ctx.FocusAreas, ", "))
		}
	case store.AgentKindHealthcheck:
		sb.WriteString("## Role\n")
		sb.WriteString("You are the healthcheck agent. Monitor the deployed application and escalate anomalies.\n")
	}

	return sb.String()
}
