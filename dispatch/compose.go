package dispatch

import "fmt"

// SkillName is the analysis skill the CLI session is asked to use.
const SkillName = "ci-failure-analyzer"

// ComposeInput prepends the skill preamble to the user's free-text context.
// The preamble names the skill, identifies the PR and tells the agent not to
// push anything before the user confirms.
func ComposeInput(repo string, number int64, prURL, context string) string {
	preamble := fmt.Sprintf(`使用 skill:%s 来分析以下 CI 失败问题。

仓库: %s
PR: #%d
链接: %s

注意：不要直接推送修改，先给出修复建议，等待用户确认后再操作。

`, SkillName, repo, number, prURL)
	return preamble + context
}
