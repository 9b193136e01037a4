package loop

import (
	"strings"
	"testing"

	"hatloop/internal/bus"
)

func TestComposeOrderIsPreambleInstructionsPayload(t *testing.T) {
	composer := NewComposer("LOOP_COMPLETE", "Build the widget.")
	hat := bus.Hat{ID: "impl", Name: "Implementer", Instructions: "Write clean, tested code."}
	event := bus.NewEvent("task.start", "Start with the API layer.")

	prompt := composer.Compose(hat, event, []bus.Hat{hat})

	preamblePos := strings.Index(prompt, "ORCHESTRATION CONTEXT:")
	instructionsPos := strings.Index(prompt, "Write clean, tested code.")
	payloadPos := strings.Index(prompt, "Start with the API layer.")
	if preamblePos < 0 || instructionsPos < 0 || payloadPos < 0 {
		t.Fatalf("missing parts in prompt:\n%s", prompt)
	}
	if !(preamblePos < instructionsPos && instructionsPos < payloadPos) {
		t.Fatalf("parts out of order: preamble=%d instructions=%d payload=%d",
			preamblePos, instructionsPos, payloadPos)
	}
}

func TestComposeSubstitutesPromptAndPromise(t *testing.T) {
	composer := NewComposer("ALL_DONE", "Fix the flaky test.")
	hat := bus.DefaultHat(SingleHatInstructions())
	prompt := composer.Compose(hat, bus.NewEvent("task.start", "Fix the flaky test."), []bus.Hat{hat})

	if !strings.Contains(prompt, "Fix the flaky test.") {
		t.Fatalf("prompt content not substituted")
	}
	if !strings.Contains(prompt, "ALL_DONE") {
		t.Fatalf("completion promise not substituted")
	}
	if strings.Contains(prompt, "{prompt_content}") || strings.Contains(prompt, "{promise}") {
		t.Fatalf("template placeholders leaked into prompt")
	}
	if !strings.Contains(prompt, ScratchpadPath) {
		t.Fatalf("scratchpad pointer missing")
	}
}

func TestComposeSingleHatHasNoTopologyTable(t *testing.T) {
	composer := NewComposer("LOOP_COMPLETE", "task")
	hat := bus.DefaultHat(SingleHatInstructions())
	prompt := composer.Compose(hat, bus.NewEvent("task.start", "task"), []bus.Hat{hat})

	if strings.Contains(prompt, "| Hat |") {
		t.Fatalf("single-hat prompt should not render a topology table")
	}
	if strings.Contains(prompt, "EVENT COMMUNICATION") {
		t.Fatalf("single-hat prompt should not teach event markers")
	}
}

func TestComposeMultiHatTopologyAndPublishes(t *testing.T) {
	composer := NewComposer("LOOP_COMPLETE", "task")
	impl := bus.Hat{
		ID: "impl", Name: "Implementer",
		Subscriptions: []string{"task.*"},
		Publishes:     []string{"impl.done", "impl.blocked"},
		Instructions:  "Implement one change.",
	}
	rev := bus.Hat{ID: "rev", Name: "Reviewer", Subscriptions: []string{"impl.*"}}

	prompt := composer.Compose(impl, bus.NewEvent("task.start", "go"), []bus.Hat{impl, rev})

	if !strings.Contains(prompt, "| Implementer | task.* | impl.done, impl.blocked |") {
		t.Fatalf("topology row missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "| Reviewer | impl.* |") {
		t.Fatalf("reviewer topology row missing")
	}
	if !strings.Contains(prompt, "You typically publish: impl.done, impl.blocked") {
		t.Fatalf("publishes hint missing")
	}
	if !strings.Contains(prompt, `<event topic="your.topic">`) {
		t.Fatalf("event marker instruction missing")
	}
}

func TestComposeIncludesIncomingEventTopic(t *testing.T) {
	composer := NewComposer("LOOP_COMPLETE", "task")
	hat := bus.Hat{ID: "rev", Name: "Reviewer"}
	prompt := composer.Compose(hat, bus.NewEvent("impl.done", "please review"), []bus.Hat{hat, hat})

	if !strings.Contains(prompt, "INCOMING EVENT [impl.done]:") {
		t.Fatalf("incoming event header missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "please review") {
		t.Fatalf("event payload missing")
	}
}
