// feed.go — 活动流投影: kind → 人类可读句子的固定映射表。
//
// 已知工具采用 "价值优先" 措辞 (把原始计数翻译成成果描述),
// 未识别的 kind 原样透传 message。
package project

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/eventlog"
	"github.com/contentdesk/worksync/pkg/util"
)

// feedMaxItems 活动流只保留最近 N 条。
const feedMaxItems = 120

// Feed 投影倒序活动流。
func Feed(log eventlog.Log) []FeedItem {
	start := 0
	if len(log) > feedMaxItems {
		start = len(log) - feedMaxItems
	}

	items := make([]FeedItem, 0, len(log)-start)
	// 倒序: 最新在前
	for i := len(log) - 1; i >= start; i-- {
		ev := log[i]
		items = append(items, FeedItem{
			ID:          ev.ID,
			At:          ev.CreatedAt,
			Kind:        ev.Kind,
			Level:       ev.Level,
			RunID:       ev.RunID,
			Text:        feedText(ev, log),
			ActionLabel: actionLabelFor(ev.Kind),
		})
	}
	return items
}

// actionLabels kind → 可选操作提示。
var actionLabels = map[event.Kind]string{
	event.KindToolOutput:       "View result",
	event.KindRunCompleted:     "View result",
	event.KindDecisionRequired: "Review approval",
}

func actionLabelFor(kind event.Kind) string {
	return actionLabels[kind]
}

// feedText kind → 句子的固定映射。
func feedText(ev event.CanonicalEvent, log eventlog.Log) string {
	switch ev.Kind {
	case event.KindRunStarted:
		return "Run started."
	case event.KindRunQueued:
		return "Run queued."
	case event.KindRunPlanning:
		return "Planning the approach."
	case event.KindRunWriting:
		return "Writing the draft."
	case event.KindRunWaiting:
		return "Paused — waiting for your input."
	case event.KindToolStarted:
		return fmt.Sprintf("Started %s.", toolLabel(ev.ToolName))
	case event.KindToolOutput:
		return toolOutputText(ev)
	case event.KindToolFailed:
		msg := strings.TrimSpace(ev.Message)
		if msg == "" {
			return fmt.Sprintf("%s failed.", toolLabel(ev.ToolName))
		}
		return fmt.Sprintf("%s failed: %s", toolLabel(ev.ToolName), util.Truncate(msg, 120))
	case event.KindRunCompleted:
		return runCompletedText(ev, log)
	case event.KindRunFailed:
		msg := strings.TrimSpace(ev.Message)
		if msg == "" {
			return "Run failed."
		}
		return "Run failed: " + util.Truncate(msg, 120)
	case event.KindRunCancelled:
		return "Run cancelled."
	case event.KindDecisionRequired:
		return "Approval needed before the run can continue."
	default:
		// 未识别 kind: 原始 message 透传
		return ev.Message
	}
}

// runCompletedText 完成句子附带本次运行的工具聚合。
func runCompletedText(ev event.CanonicalEvent, log eventlog.Log) string {
	if ev.RunID == "" {
		return "Run completed."
	}
	toolRuns := map[string]struct{}{}
	for _, e := range log.ForRun(ev.RunID) {
		if e.ToolRunID != "" {
			toolRuns[e.ToolRunID] = struct{}{}
		}
	}
	if len(toolRuns) == 0 {
		return "Run completed."
	}
	if len(toolRuns) == 1 {
		return "Run completed after 1 tool run."
	}
	return fmt.Sprintf("Run completed after %d tool runs.", len(toolRuns))
}

// ========================================
// 工具感知措辞
// ========================================

var httpStatusRe = regexp.MustCompile(`status\s+(\d{3})`)

// toolOutputText 已知工具 → 价值优先句子, 未知工具回退原始 message。
func toolOutputText(ev event.CanonicalEvent) string {
	switch ev.ToolName {
	case "web.fetch":
		if m := httpStatusRe.FindStringSubmatch(ev.Message); m != nil {
			return fmt.Sprintf("Saved a page snapshot (HTTP %s).", m[1])
		}
		return "Saved a page snapshot."
	case "workspace.load":
		if n, ok := payloadInt(ev.Payload, "records"); ok {
			return fmt.Sprintf("Loaded %d records from workspace section.", n)
		}
		return "Loaded records from workspace section."
	case "search.web":
		if n, ok := payloadInt(ev.Payload, "results"); ok {
			return fmt.Sprintf("Found %d search results.", n)
		}
		return "Search finished."
	case "social.scrape":
		if n, ok := payloadInt(ev.Payload, "records"); ok {
			return fmt.Sprintf("Collected %d social posts.", n)
		}
		return "Collected social posts."
	case "media.transcribe":
		return "Transcribed media to text."
	case "trends.lookup":
		return "Pulled trend data."
	}
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		return util.Truncate(msg, 160)
	}
	return fmt.Sprintf("%s produced output.", toolLabel(ev.ToolName))
}

func toolLabel(toolName string) string {
	if strings.TrimSpace(toolName) == "" {
		return "a tool"
	}
	return toolName
}
