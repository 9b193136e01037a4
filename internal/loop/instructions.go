package loop

import (
	"fmt"
	"strings"

	"hatloop/internal/bus"
)

// ScratchpadPath is the shared cross-iteration state file agents maintain.
// The loop never writes it; it only points agents at it.
const ScratchpadPath = ".agent/scratchpad.md"

// preambleTemplate opens every composed prompt. {prompt_content} and
// {promise} are substituted; the text is otherwise verbatim, and callers
// must keep preamble, hat instructions, and event payload in that order.
const preambleTemplate = `ORCHESTRATION CONTEXT:
You are running inside an orchestration loop. The loop calls you repeatedly
with fresh context until the overall task is complete.

GUARDRAILS:
1. Implement only ONE small, focused task per iteration.
2. Check ` + ScratchpadPath + ` for previous progress before starting.
   Do NOT restart from scratch if the scratchpad shows progress.
3. At iteration end, update the scratchpad with what you accomplished,
   what remains, and any blockers or decisions.
4. Use .agent/workspace/ for temporary files.

COMPLETION:
When the overall task is complete, output:
{promise}

ORIGINAL TASK:
{prompt_content}
`

// singleHatInstructions is the fixed instruction block for the synthetic
// default hat. Classic loop workflow: explore, plan, implement, commit.
const singleHatInstructions = `WORKFLOW:
- Explore: research and understand the codebase.
- Plan: keep a prioritized task list in the scratchpad.
  Task markers: [ ] pending, [x] done, [~] cancelled (with reason).
- Implement: pick ONE task, write tests first, then code.
- Commit: commit after each iteration with a clear message.
`

// Composer builds per-iteration prompts.
type Composer struct {
	promise       string
	promptContent string
}

// NewComposer returns a composer for the given completion promise and the
// contents of the prompt file.
func NewComposer(promise, promptContent string) *Composer {
	return &Composer{promise: promise, promptContent: promptContent}
}

// SingleHatInstructions returns the instruction block the synthetic default
// hat carries in single-hat mode.
func SingleHatInstructions() string {
	return singleHatInstructions
}

// Compose assembles the prompt for one iteration: preamble, then the active
// hat's instructions, then the triggering event's payload. The order is
// part of the loop contract.
func (c *Composer) Compose(hat bus.Hat, event bus.Event, topology []bus.Hat) string {
	var b strings.Builder
	b.WriteString(c.preamble())

	if strings.TrimSpace(hat.Instructions) != "" {
		b.WriteString("\nYOUR ROLE (")
		b.WriteString(hat.Name)
		b.WriteString("):\n")
		b.WriteString(hat.Instructions)
		if !strings.HasSuffix(hat.Instructions, "\n") {
			b.WriteString("\n")
		}
	}

	if len(topology) > 1 {
		b.WriteString(c.eventWritingSection(hat))
		b.WriteString(topologyTable(topology))
	}

	b.WriteString("\nINCOMING EVENT [")
	b.WriteString(event.Topic)
	b.WriteString("]:\n")
	b.WriteString(event.Payload)
	if !strings.HasSuffix(event.Payload, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Composer) preamble() string {
	s := strings.ReplaceAll(preambleTemplate, "{promise}", c.promise)
	return strings.ReplaceAll(s, "{prompt_content}", c.promptContent)
}

func (c *Composer) eventWritingSection(hat bus.Hat) string {
	var b strings.Builder
	b.WriteString("\nEVENT COMMUNICATION:\n")
	b.WriteString("Hand off work by emitting event markers in your output:\n")
	b.WriteString("<event topic=\"your.topic\">message for the next hat</event>\n")
	b.WriteString("Add target=\"hat-id\" for a direct handoff.\n")
	if len(hat.Publishes) > 0 {
		b.WriteString("You typically publish: ")
		b.WriteString(strings.Join(hat.Publishes, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

// topologyTable renders the registered hats so agents can route handoffs
// deliberately.
func topologyTable(hats []bus.Hat) string {
	var b strings.Builder
	b.WriteString("\nHATS:\n")
	b.WriteString("| Hat | Triggers On | Publishes |\n")
	b.WriteString("|-----|-------------|-----------|\n")
	for _, hat := range hats {
		fmt.Fprintf(&b, "| %s | %s | %s |\n",
			hat.Name,
			strings.Join(hat.Subscriptions, ", "),
			strings.Join(hat.Publishes, ", "))
	}
	return b.String()
}
