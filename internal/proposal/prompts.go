package proposal

import (
	"fmt"
	"strings"

	"github.com/seantiz/crucible/internal/metric"
	"github.com/seantiz/crucible/internal/model"
)

const systemPrompt = "You are an expert programmer participating in an " +
	"automated solution search. Reply with a short plan followed by exactly " +
	"one fenced code block containing a complete, self-contained program."

// outputTail caps how much of a parent's output is quoted back to the engine.
const outputTail = 4000

func draftPrompt(task model.Task, preview string) string {
	var b strings.Builder
	writeTaskHeader(&b, task, preview)
	fmt.Fprintf(&b, "Propose a complete first solution. Print the final score as a line\n`%s <value>` so it can be collected.\n", metric.Marker)
	return b.String()
}

func debugPrompt(task model.Task, parent *model.Node, preview string) string {
	var b strings.Builder
	writeTaskHeader(&b, task, preview)
	b.WriteString("The previous attempt below failed. Fix it and return the full corrected program.\n\n")
	writeParent(&b, parent)
	res := parent.ExecResult()
	if res.Stderr != "" {
		fmt.Fprintf(&b, "# Stderr\n```\n%s\n```\n\n", tail(res.Stderr, outputTail))
	}
	fmt.Fprintf(&b, "# Output (exit code %d)\n```\n%s\n```\n", res.ExitCode, tail(res.Output, outputTail))
	return b.String()
}

func improvePrompt(task model.Task, parent *model.Node, preview string) string {
	var b strings.Builder
	writeTaskHeader(&b, task, preview)
	b.WriteString("Improve the working solution below. Aim for a strictly better score; return the full program.\n\n")
	writeParent(&b, parent)
	if m := parent.Metric(); m != nil {
		fmt.Fprintf(&b, "# Current %s\n%v\n", task.Metric.Name, *m)
	}
	return b.String()
}

func writeTaskHeader(b *strings.Builder, task model.Task, preview string) {
	fmt.Fprintf(b, "# Task: %s\n%s\n\n", task.Name, task.Description)
	direction := "maximized"
	if !task.Metric.Maximize {
		direction = "minimized"
	}
	fmt.Fprintf(b, "The solution is scored by %q, which is %s.\n\n", task.Metric.Name, direction)
	if preview != "" {
		fmt.Fprintf(b, "# Data overview\n%s\n\n", preview)
	}
}

func writeParent(b *strings.Builder, parent *model.Node) {
	if parent.Plan != "" {
		fmt.Fprintf(b, "# Previous plan\n%s\n\n", parent.Plan)
	}
	fmt.Fprintf(b, "# Previous code\n```\n%s\n```\n\n", parent.Code)
}

// parseProposal splits an engine reply into plan text and the first fenced
// code block.
func parseProposal(content string) (Proposal, error) {
	start := strings.Index(content, "```")
	if start < 0 {
		return Proposal{}, fmt.Errorf("reply contains no fenced code block")
	}
	plan := strings.TrimSpace(content[:start])

	rest := content[start+3:]
	// Skip an optional language tag on the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "`") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return Proposal{}, fmt.Errorf("fenced code block is not terminated")
	}

	code := strings.TrimRight(rest[:end], "\n")
	if strings.TrimSpace(code) == "" {
		return Proposal{}, fmt.Errorf("fenced code block is empty")
	}
	return Proposal{Plan: plan, Code: code}, nil
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "[truncated]\n" + s[len(s)-limit:]
}
