package reconciler

import (
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	stream "github.com/kode-sdk/kode-chat/internal/stream"
)

const (
	unnamedTool          = "unnamed tool"
	genericStreamError   = "The event stream reported an unknown error."
	completionTitle      = "Conversation complete"
	completionDetails    = "The agent finished this turn."
	tokenUsageTitle      = "Token usage"
	streamErrorTitle     = "Error"
	interruptedToolError = "interrupted"
	toolFailedError      = "tool call failed"
)

// Outcome describes what a single fold step changed
type Outcome struct {
	Changed bool
	// ThinkingFinalized is the id of a thinking entry closed by this step
	ThinkingFinalized string
	// Completed is set when this step moved the turn to completed
	Completed bool
}

// Folder applies stream events to a Conversation. It holds no conversation
// state of its own, so one Folder may serve any number of conversations.
type Folder struct {
	NewID func() string
	Now   func() time.Time
}

// NewFolder returns a Folder using random ids and the wall clock
func NewFolder() *Folder {
	return &Folder{
		NewID: func() string { return uuid.New().String() },
		Now:   time.Now,
	}
}

// Apply folds one event into conv. Each call is fully applied before it
// returns.
func (f *Folder) Apply(conv *domain.Conversation, ev domain.StreamEvent) Outcome {
	var out Outcome

	if b := ev.Cursor(); b != nil {
		if conv.LastBookmark == nil || *conv.LastBookmark != *b {
			bm := *b
			conv.LastBookmark = &bm
			out.Changed = true
		}
	}

	switch e := ev.(type) {
	case domain.TextChunkEvent:
		out.merge(f.appendAssistantDelta(conv, e.Delta))
	case domain.TextChunkEndEvent:
		out.Changed = f.finalizeAssistant(conv) || out.Changed
	case domain.ThinkChunkStartEvent:
		out.Changed = f.openThinking(conv) || out.Changed
	case domain.ThinkChunkEvent:
		out.Changed = f.appendThinkingDelta(conv, e.Delta) || out.Changed
	case domain.ThinkChunkEndEvent:
		if id := f.finalizeThinking(conv); id != "" {
			out.Changed = true
			out.ThinkingFinalized = id
		}
	case domain.ToolStartEvent:
		out.Changed = f.startTool(conv, e.Call) || out.Changed
	case domain.ToolEndEvent:
		out.Changed = f.endTool(conv, e.Call, e.Content) || out.Changed
	case domain.TokenUsageEvent:
		conv.Usage.InputTokens += e.InputTokens
		conv.Usage.OutputTokens += e.OutputTokens
		f.appendEvent(conv, tokenUsageTitle, fmt.Sprintf("input %d, output %d", e.InputTokens, e.OutputTokens))
		out.Changed = true
	case domain.StreamErrorEvent:
		details := e.Message
		if details == "" {
			details = genericStreamError
		}
		f.appendEvent(conv, streamErrorTitle, details)
		out.Changed = true
	case domain.DoneEvent:
		// Finalize unconditionally; the banner is emitted once per turn.
		closedText := f.finalizeAssistant(conv)
		out.ThinkingFinalized = f.finalizeThinking(conv)
		if !conv.HasCompleted || closedText || out.ThinkingFinalized != "" {
			conv.HasCompleted = true
			f.appendEvent(conv, completionTitle, completionDetails)
			out.Changed = true
			out.Completed = true
		}
	}

	if out.Changed {
		conv.Version++
	}
	return out
}

func (o *Outcome) merge(other Outcome) {
	o.Changed = o.Changed || other.Changed
	if other.ThinkingFinalized != "" {
		o.ThinkingFinalized = other.ThinkingFinalized
	}
	o.Completed = o.Completed || other.Completed
}

func (f *Folder) appendAssistantDelta(conv *domain.Conversation, delta string) Outcome {
	if delta == "" {
		return Outcome{}
	}

	out := Outcome{Changed: true}
	conv.LastError = nil

	if idx := openEntry(conv, conv.PendingAssistantEntryID); idx >= 0 {
		conv.Entries[idx].Content += delta
		return out
	}

	// Reasoning always precedes the reply it belongs to.
	out.ThinkingFinalized = f.finalizeThinking(conv)

	entry := domain.NewTextEntry(f.NewID(), domain.RoleAssistant, delta, true)
	entry.CreatedAt = f.Now()
	conv.Entries = append(conv.Entries, entry)
	conv.PendingAssistantEntryID = entry.ID
	beginTurn(conv)
	return out
}

func (f *Folder) finalizeAssistant(conv *domain.Conversation) bool {
	idx := openEntry(conv, conv.PendingAssistantEntryID)
	conv.PendingAssistantEntryID = ""
	if idx < 0 {
		return false
	}
	conv.Entries[idx].Streaming = false
	return true
}

func (f *Folder) openThinking(conv *domain.Conversation) bool {
	if openEntry(conv, conv.PendingThinkingEntryID) >= 0 {
		return false
	}
	entry := domain.NewThinkingEntry(f.NewID(), "")
	entry.CreatedAt = f.Now()
	conv.Entries = append(conv.Entries, entry)
	conv.PendingThinkingEntryID = entry.ID
	beginTurn(conv)
	return true
}

func (f *Folder) appendThinkingDelta(conv *domain.Conversation, delta string) bool {
	if delta == "" {
		return false
	}
	if idx := openEntry(conv, conv.PendingThinkingEntryID); idx >= 0 {
		conv.Entries[idx].Content += delta
		return true
	}
	f.openThinking(conv)
	idx := conv.EntryIndex(conv.PendingThinkingEntryID)
	conv.Entries[idx].Content = delta
	return true
}

func (f *Folder) finalizeThinking(conv *domain.Conversation) string {
	id := conv.PendingThinkingEntryID
	idx := openEntry(conv, id)
	conv.PendingThinkingEntryID = ""
	if idx < 0 {
		return ""
	}
	conv.Entries[idx].Streaming = false
	return id
}

// beginTurn marks agent output arriving after a completed turn as a new turn,
// so its done is finalized and announced like the first.
func beginTurn(conv *domain.Conversation) {
	conv.HasCompleted = false
}

// openEntry returns the index of a still-streaming entry with the given id
func openEntry(conv *domain.Conversation, id string) int {
	idx := conv.EntryIndex(id)
	if idx < 0 || !conv.Entries[idx].Streaming {
		return -1
	}
	return idx
}

func (f *Folder) startTool(conv *domain.Conversation, call domain.ToolCall) bool {
	input := formatInput(call.Input)

	if call.ID != "" {
		if entryID, ok := conv.ToolIndex[call.ID]; ok {
			return f.coalesceStart(conv, entryID, call, input)
		}
	}

	toolID := call.ID
	if toolID == "" {
		toolID = f.derivedToolID(conv, call.Name)
	}

	name := call.Name
	if name == "" {
		name = unnamedTool
	}

	now := f.Now()
	entry := domain.NewToolEntry(toolID, name, domain.ToolStatusRunning, input)
	entry.CreatedAt = now
	conv.Entries = append(conv.Entries, entry)
	conv.ToolIndex[toolID] = toolID
	conv.ToolCalls = append(conv.ToolCalls, domain.ToolCallRecord{
		ID:        toolID,
		CallID:    call.ID,
		Name:      name,
		Input:     input,
		State:     domain.ToolCallStateExecuting,
		StartedAt: &now,
	})
	beginTurn(conv)
	return true
}

// coalesceStart folds a repeated tool:start into the entry already rendering it
func (f *Folder) coalesceStart(conv *domain.Conversation, entryID string, call domain.ToolCall, input string) bool {
	idx := conv.EntryIndex(entryID)
	if idx < 0 {
		return false
	}

	entry := &conv.Entries[idx]
	changed := false
	if call.Name != "" && entry.Name == unnamedTool {
		entry.Name = call.Name
		changed = true
	}
	if call.Input != nil && (entry.Input == "" || entry.Input == "{}") && input != entry.Input {
		entry.Input = input
		changed = true
	}
	if rec, ok := conv.ToolCall(entryID); ok && changed {
		rec.Name = entry.Name
		rec.Input = entry.Input
	}
	return changed
}

func (f *Folder) derivedToolID(conv *domain.Conversation, name string) string {
	if name == "" {
		name = "tool"
	}
	id := fmt.Sprintf("%s-%d", name, f.Now().UnixMilli())
	if _, taken := conv.ToolIndex[id]; taken || conv.EntryIndex(id) >= 0 {
		id = fmt.Sprintf("%s-%s", name, f.NewID())
	}
	return id
}

// resolveTool finds the entry a tool:end refers to: the exact call id when
// present, otherwise the most recent tool id prefixed by the call name,
// preferring entries that are still running.
func resolveTool(conv *domain.Conversation, call domain.ToolCall) (string, bool) {
	if call.ID != "" {
		entryID, ok := conv.ToolIndex[call.ID]
		return entryID, ok
	}
	if call.Name == "" {
		return "", false
	}

	bestIdx, bestRunning := -1, false
	for toolID, entryID := range conv.ToolIndex {
		if !strings.HasPrefix(toolID, call.Name) {
			continue
		}
		idx := conv.EntryIndex(entryID)
		if idx < 0 {
			continue
		}
		running := conv.Entries[idx].Status == domain.ToolStatusRunning
		switch {
		case bestIdx < 0,
			running && !bestRunning,
			running == bestRunning && idx > bestIdx:
			bestIdx, bestRunning = idx, running
		}
	}
	if bestIdx < 0 {
		return "", false
	}
	return conv.Entries[bestIdx].ID, true
}

func (f *Folder) endTool(conv *domain.Conversation, call domain.ToolCall, content any) bool {
	output := call.Output
	if output == nil {
		output = content
	}
	result := stream.FormatStructured(output)

	status := domain.ToolStatusCompleted
	errMsg := ""
	if call.IsError {
		status = domain.ToolStatusError
		errMsg = call.Error
		if errMsg == "" {
			errMsg = toolFailedError
		}
	}

	now := f.Now()

	entryID, ok := resolveTool(conv, call)
	if !ok {
		f.appendUnmatchedEnd(conv, call, status, result, errMsg, now)
		return true
	}

	idx := conv.EntryIndex(entryID)
	if idx < 0 {
		return false
	}
	entry := &conv.Entries[idx]
	if entry.Status.IsTerminal() {
		return false
	}

	rec, hasRecord := conv.ToolCall(entryID)
	duration := call.DurationMs
	if duration == nil {
		duration = entry.DurationMs
	}
	if hasRecord {
		rec.Complete(result, errMsg, duration, now)
		duration = rec.DurationMs
	}

	entry.Status = status
	entry.Result = result
	entry.DurationMs = duration
	return true
}

func (f *Folder) appendUnmatchedEnd(conv *domain.Conversation, call domain.ToolCall, status domain.ToolStatus, result, errMsg string, now time.Time) {
	entryID := call.ID
	if entryID == "" || conv.EntryIndex(entryID) >= 0 {
		entryID = "tool-" + f.NewID()
	}

	name := call.Name
	if name == "" {
		name = unnamedTool
	}

	entry := domain.NewToolEntry(entryID, name, status, formatInput(call.Input))
	entry.Result = result
	entry.DurationMs = call.DurationMs
	entry.CreatedAt = now
	conv.Entries = append(conv.Entries, entry)

	key := call.ID
	if key == "" {
		key = entryID
	}
	conv.ToolIndex[key] = entryID

	rec := domain.ToolCallRecord{
		ID:     entryID,
		CallID: call.ID,
		Name:   name,
		Input:  entry.Input,
		State:  domain.ToolCallStateExecuting,
	}
	rec.Complete(result, errMsg, call.DurationMs, now)
	conv.ToolCalls = append(conv.ToolCalls, rec)
}

func (f *Folder) appendEvent(conv *domain.Conversation, title, details string) {
	entry := domain.NewEventEntry(f.NewID(), title, details)
	entry.CreatedAt = f.Now()
	conv.Entries = append(conv.Entries, entry)
}

// InterruptTools moves every running tool to error. It returns true when at
// least one entry changed.
func (f *Folder) InterruptTools(conv *domain.Conversation) bool {
	now := f.Now()
	changed := false
	for i := range conv.Entries {
		entry := &conv.Entries[i]
		if entry.Kind != domain.EntryKindTool || entry.Status != domain.ToolStatusRunning {
			continue
		}
		entry.Status = domain.ToolStatusError
		entry.Result = interruptedToolError
		if rec, ok := conv.ToolCall(entry.ID); ok {
			rec.Complete("", interruptedToolError, nil, now)
			entry.DurationMs = rec.DurationMs
		}
		changed = true
	}
	if changed {
		conv.Version++
	}
	return changed
}

// LoadHistory replaces the transcript with entries fetched from the backend.
// Nothing loaded from history is considered streaming.
func (f *Folder) LoadHistory(conv *domain.Conversation, entries []domain.ChatEntry) {
	conv.Entries = make([]domain.ChatEntry, 0, len(entries))
	conv.ToolIndex = make(map[string]string)
	conv.ToolCalls = []domain.ToolCallRecord{}
	conv.PendingAssistantEntryID = ""
	conv.PendingThinkingEntryID = ""

	for _, entry := range entries {
		if entry.ID == "" || conv.EntryIndex(entry.ID) >= 0 {
			entry.ID = f.NewID()
		}
		if entry.Kind == "" {
			entry.Kind = domain.EntryKindText
		}
		entry.Streaming = false

		if entry.Kind == domain.EntryKindTool {
			if entry.Status == "" {
				entry.Status = domain.ToolStatusCompleted
			}
			conv.ToolIndex[entry.ID] = entry.ID
			conv.ToolCalls = append(conv.ToolCalls, historyRecord(entry))
		}
		conv.Entries = append(conv.Entries, entry)
	}
	conv.Version++
}

func historyRecord(entry domain.ChatEntry) domain.ToolCallRecord {
	rec := domain.ToolCallRecord{
		ID:         entry.ID,
		Name:       entry.Name,
		Input:      entry.Input,
		Result:     entry.Result,
		DurationMs: entry.DurationMs,
	}
	switch entry.Status {
	case domain.ToolStatusCompleted:
		rec.State = domain.ToolCallStateCompleted
	case domain.ToolStatusError:
		rec.State = domain.ToolCallStateFailed
		rec.Error = entry.Result
	default:
		rec.State = domain.ToolCallStateExecuting
	}
	return rec
}

func formatInput(input any) string {
	if input == nil {
		input = map[string]any{}
	}
	return stream.FormatStructured(input)
}
