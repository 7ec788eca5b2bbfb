package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/deepresearch/internal/llm"
)

const (
	ResearchCompleteName = "ResearchComplete"
	ThinkToolName        = "think_tool"
	ConductResearchName  = "ConductResearch"
)

// ResearchCompleteAck is the fixed content returned by the completion signal
const ResearchCompleteAck = "Research complete acknowledged."

// ResearchComplete is the completion signal. Invoking it ends the caller's loop.
type ResearchComplete struct{}

func (ResearchComplete) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ResearchCompleteName,
		Description: "Call this tool to indicate that the research is complete.",
		Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	}
}

func (ResearchComplete) Invoke(context.Context, map[string]interface{}) (string, error) {
	return ResearchCompleteAck, nil
}

// Think records a reflection so the model can plan between searches
type Think struct{}

func (Think) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: ThinkToolName,
		Description: "Tool for strategic reflection on research progress and decision-making. " +
			"Use after each search to analyze results and plan next steps.",
		Parameters: llm.ObjectSchema(
			map[string]string{"reflection": "string"},
			map[string]string{"reflection": "Your detailed reflection on research progress, findings, gaps, and next steps"},
		),
	}
}

func (Think) Invoke(_ context.Context, args map[string]interface{}) (string, error) {
	reflection, err := stringArg(args, "reflection")
	if err != nil {
		return "", err
	}
	return "Reflection recorded: " + reflection, nil
}

// ConductResearchSpec is bound to the supervisor's model; calls are dispatched
// to researcher workers rather than executed through a registry.
func ConductResearchSpec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ConductResearchName,
		Description: "Call this tool to conduct research on a specific topic.",
		Parameters: llm.ObjectSchema(
			map[string]string{"research_topic": "string"},
			map[string]string{"research_topic": "The topic to research. Should be a single topic, described in high detail (at least a paragraph)."},
		),
	}
}

var errMissingArg = errors.New("missing argument")

func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errMissingArg, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", key, v)
	}
	return s, nil
}

// TopicArg extracts the research topic of a ConductResearch call
func TopicArg(args map[string]interface{}) (string, error) {
	return stringArg(args, "research_topic")
}
