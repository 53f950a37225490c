// Package transcript implements the transcript processing pipeline (spec
// §4.5, C8): claim, download, parse, persist, advance, and an optional
// summarize phase. JSONL field extraction is grounded on the gjson-based
// line-by-line walk in other_examples' Claude Code parser, and content-block
// shape (text/thinking/tool_use/tool_result) on the claude-agent-sdk-go
// message types.
package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// parseResult is the output of parsing one transcript blob.
type parseResult struct {
	Messages []storage.TranscriptMessage
	Blocks   []storage.ContentBlock
}

// parseJSONL walks a transcript blob line by line, assigning a monotonic
// ordinal starting at startOrdinal+1, and tracking compact boundaries
// (§4.5 step 3). A line with `isCompactSummary:true` marks a boundary: it is
// not itself emitted as a message, but every message after it is stamped
// `is_compacted=true` with the bumped `compact_sequence` until the next
// boundary.
func parseJSONL(sessionID string, data []byte, startOrdinal int) (parseResult, error) {
	var result parseResult

	ordinal := startOrdinal + 1
	compactSequence := 0
	isCompacted := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !gjson.Valid(line) {
			continue
		}

		if gjson.Get(line, "isCompactSummary").Bool() {
			compactSequence++
			isCompacted = true
			continue
		}
		if gjson.Get(line, "isMeta").Bool() {
			continue
		}

		msgType := gjson.Get(line, "type").Str
		if msgType != "user" && msgType != "assistant" {
			continue
		}

		content := gjson.Get(line, "message.content")
		if !content.Exists() || !content.IsArray() {
			continue
		}

		messageID := gjson.Get(line, "uuid").Str
		if messageID == "" {
			messageID = fmt.Sprintf("%s-%d", sessionID, ordinal)
		}

		msg := storage.TranscriptMessage{
			SessionID:       sessionID,
			Ordinal:         ordinal,
			ID:              messageID,
			Role:            msgType,
			Timestamp:       parseTimestamp(gjson.Get(line, "timestamp").Str),
			IsCompacted:     isCompacted,
			CompactSequence: compactSequence,
		}
		if model := gjson.Get(line, "message.model").Str; model != "" {
			msg.Model = &model
		}
		msg.InputTokens = int(gjson.Get(line, "message.usage.input_tokens").Int())
		msg.OutputTokens = int(gjson.Get(line, "message.usage.output_tokens").Int())

		blocks := extractContentBlocks(messageID, sessionID, content)
		if len(blocks) == 0 {
			continue
		}

		result.Messages = append(result.Messages, msg)
		result.Blocks = append(result.Blocks, blocks...)
		ordinal++
	}
	if err := scanner.Err(); err != nil {
		return parseResult{}, fmt.Errorf("scan transcript: %w", err)
	}
	return result, nil
}

// extractContentBlocks converts one message's `content` array into
// ContentBlock rows, one per array element, ordered by their position.
func extractContentBlocks(messageID, sessionID string, content gjson.Result) []storage.ContentBlock {
	var blocks []storage.ContentBlock
	content.ForEach(func(_, block gjson.Result) bool {
		order := len(blocks)
		blockType := storage.ContentBlockType(block.Get("type").Str)

		cb := storage.ContentBlock{
			MessageID:  messageID,
			SessionID:  sessionID,
			BlockOrder: order,
			BlockType:  blockType,
		}

		switch blockType {
		case storage.BlockTypeText:
			text := block.Get("text").Str
			cb.ContentText = &text
		case storage.BlockTypeThinking:
			thinking := block.Get("thinking").Str
			cb.ThinkingText = &thinking
		case storage.BlockTypeToolUse:
			name := block.Get("name").Str
			cb.ToolName = &name
			if input := block.Get("input"); input.Exists() {
				raw := []byte(input.Raw)
				cb.ToolInput = raw
			}
		case storage.BlockTypeToolResult:
			id := block.Get("tool_use_id").Str
			cb.ToolResultID = &id
			isErr := block.Get("is_error").Bool()
			cb.IsError = &isErr
			result := resultText(block.Get("content"))
			cb.ResultText = &result
		default:
			return true // skip unrecognized block types, don't stop the walk
		}

		blocks = append(blocks, cb)
		return true
	})
	return blocks
}

// resultText flattens a tool_result's content, which may be a bare string or
// an array of {type:"text", text:"..."} blocks.
func resultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if content.IsArray() {
		var out string
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").Str == "text" {
				out += block.Get("text").Str
			}
			return true
		})
		return out
	}
	return content.Raw
}

// parseTimestamp parses an RFC3339 transcript timestamp, falling back to a
// zero time rather than failing the whole record on one bad field.
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	if unixSeconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unixSeconds, 0).UTC()
	}
	return time.Time{}
}
