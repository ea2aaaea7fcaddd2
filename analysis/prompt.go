package analysis

import (
	"fmt"
	"strings"
)

// Section headers of the diagnosis reply, in the order the model must emit them.
const (
	SectionFailureType = "【失败类型】"
	SectionRootCause   = "【根本原因】"
	SectionErrorDetail = "【错误详情】"
	SectionFixes       = "【修复建议】"
)

// FailureCategories is the closed set the model classifies a failure into:
// compile error, test failure, lint error, dependency issue, timeout,
// permission issue, other.
var FailureCategories = []string{
	"编译错误",
	"测试失败",
	"Lint错误",
	"依赖问题",
	"超时",
	"权限问题",
	"其他",
}

// BuildPrompt renders the fixed diagnosis instruction for one CI job.
// log is expected to be the output of TruncateLog. It travels as a JSON
// string field, so no escaping is applied here.
func BuildPrompt(jobName, log string) string {
	var sb strings.Builder

	sb.WriteString("你是一个资深的 CI/CD 工程师，擅长分析 GitHub Actions 失败日志。\n\n")
	sb.WriteString(fmt.Sprintf("分析以下 CI job \"%s\" 的失败日志，按以下固定格式回复：\n\n", jobName))

	sb.WriteString(SectionFailureType + "\n")
	sb.WriteString(fmt.Sprintf("（从以下选择：%s）\n\n", strings.Join(FailureCategories, " / ")))

	sb.WriteString(SectionRootCause + "\n")
	sb.WriteString("（用 1-2 句话说明失败的根本原因）\n\n")

	sb.WriteString(SectionErrorDetail + "\n")
	sb.WriteString("- 错误信息：...\n- 发生位置：...\n\n")

	sb.WriteString(SectionFixes + "\n")
	sb.WriteString("1. ...\n2. ...\n3. ...\n\n")

	sb.WriteString(`注意：
- 不要使用表格
- 不要使用 markdown 格式符号（如 ##、**、- 等）
- 用纯文本回复

`)

	sb.WriteString("日志：\n```\n")
	sb.WriteString(log)
	sb.WriteString("\n```\n")

	return sb.String()
}
