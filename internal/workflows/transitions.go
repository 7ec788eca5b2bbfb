package workflows

import (
	"fmt"
)

// Transition is the tagged result of one step: the node to run next and the
// partial update to fold into the owning state before running it.
type Transition[N ~string, U any] struct {
	Next   N
	Update U
}

type agentNode string

const (
	nodeClarify    agentNode = "clarify_with_user"
	nodeBrief      agentNode = "write_research_brief"
	nodeSupervisor agentNode = "research_supervisor"
	nodeReport     agentNode = "final_report_generation"
	nodeEnd        agentNode = "end"
)

type supervisorNode string

const (
	nodeSupervising supervisorNode = "supervising"
	nodeDispatching supervisorNode = "dispatching"
	nodeSupDone     supervisorNode = "done"
)

type researcherNode string

const (
	nodeActing         researcherNode = "acting"
	nodeExecutingTools researcherNode = "executing_tools"
	nodeCompressing    researcherNode = "compressing"
	nodeResDone        researcherNode = "done"
)

// Sentinel texts returned in place of results that could not be produced
const (
	CompressionFailedSentinel = "Error synthesizing research report: Maximum retries exceeded"
	ReportFailedSentinel      = "Error generating final report: Maximum retries exceeded"
)

func compressionErrorSentinel(err error) string {
	return fmt.Sprintf("Error synthesizing research report: %v", err)
}

func reportErrorSentinel(err error) string {
	return fmt.Sprintf("Error generating final report: %v", err)
}

func unknownTokenLimitSentinel(model string, err error) string {
	return fmt.Sprintf("Error generating final report: Token limit exceeded, however, we could not determine the maximum context length of model %q. "+
		"Add it to models.yaml. %v", model, err)
}

// OverflowMessage answers ConductResearch calls beyond the concurrency bound
func OverflowMessage(bound int) string {
	return fmt.Sprintf("Error: Did not run this research as you have already exceeded the maximum number of concurrent research units. "+
		"Please try again with %d or fewer research units.", bound)
}
