package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"evidencelab/internal/config"
	"evidencelab/internal/perception"
	"evidencelab/internal/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func TestSplitCommand(t *testing.T) {
	name, rest := splitCommand("  /Challenge   the sample is tiny ")
	if name != "challenge" {
		t.Fatalf("expected name 'challenge', got '%s'", name)
	}
	if rest != "the sample is tiny" {
		t.Fatalf("expected rest 'the sample is tiny', got '%s'", rest)
	}

	name, rest = splitCommand("/clusters")
	if name != "clusters" || rest != "" {
		t.Fatalf("expected ('clusters', ''), got ('%s', '%s')", name, rest)
	}

	name, rest = splitCommand("/refine\nkeep the quote\nabout fees")
	if name != "refine" || rest != "keep the quote\nabout fees" {
		t.Fatalf("expected multi-line argument, got ('%s', %q)", name, rest)
	}
}

func TestParseGuideArgs(t *testing.T) {
	rec, objections := parseGuideArgs("Remove the surprise fee | too expensive;  ; legal says no ")
	if rec != "Remove the surprise fee" {
		t.Fatalf("unexpected recommendation: %q", rec)
	}
	if len(objections) != 2 || objections[0] != "too expensive" || objections[1] != "legal says no" {
		t.Fatalf("unexpected objections: %#v", objections)
	}

	rec, objections = parseGuideArgs("Ship it")
	if rec != "Ship it" || len(objections) != 0 {
		t.Fatalf("expected bare recommendation, got %q %#v", rec, objections)
	}
}

func TestParseSessionID(t *testing.T) {
	if id, err := parseSessionID("42"); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseSessionID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestNeedsReasoning(t *testing.T) {
	for _, c := range []*cobra.Command{rootCmd, chatCmd, askCmd, ingestCmd} {
		if !needsReasoning(c) {
			t.Fatalf("expected %s to need a reasoning provider", c.Name())
		}
	}
	for _, c := range []*cobra.Command{sessionsListCmd, sessionsNewCmd, exportCmd, importCmd, validateCmd, usageCmd} {
		if needsReasoning(c) {
			t.Fatalf("expected %s to run offline", c.Name())
		}
	}
}

func TestFormatSessionTable(t *testing.T) {
	if out := formatSessionTable(nil); !strings.Contains(out, "No sessions found.") {
		t.Fatalf("expected empty notice, got: %s", out)
	}

	out := formatSessionTable([]types.Session{
		{ID: 7, Title: "Checkout research", Status: types.SessionActive},
		{ID: 12, Title: "Onboarding", Status: types.SessionArchived},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "7   active") {
		t.Fatalf("expected aligned first row, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "Onboarding") {
		t.Fatalf("expected title in last column, got %q", lines[2])
	}
}

// =============================================================================
// CHAT LOOP
// =============================================================================

func useTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	cfg = config.DefaultConfig()
	cfg.LLM.Provider = "mock"
	cfg.Store.DatabasePath = filepath.Join(dir, "evidence.db")
	cfg.Store.UsagePath = filepath.Join(dir, "usage.json")
	plain = true
	logger = zap.NewNop()
}

func route(t *testing.T, intent types.Intent) perception.MockReply {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"intent":               intent,
		"confidence":           "high",
		"reasoning":            "scripted",
		"extracted_parameters": map[string]string{},
	})
	if err != nil {
		t.Fatalf("marshal classification: %v", err)
	}
	return perception.MockReply{Text: string(data)}
}

func newTestChat(t *testing.T, replies ...perception.MockReply) chatModel {
	t.Helper()
	ctx := context.Background()
	a, err := openAppWith(ctx, cfg, perception.NewMockProvider(replies...), 0)
	if err != nil {
		t.Fatalf("openAppWith returned error: %v", err)
	}
	t.Cleanup(a.Close)
	return newChatModel(ctx, a)
}

// runCmd executes cmd and any batched commands, collecting their messages.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

// send feeds msg to the model and delivers every reply it produces.
func send(t *testing.T, m chatModel, msg tea.Msg) (chatModel, bool) {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(chatModel)
	quit := false
	for _, out := range runCmd(cmd) {
		switch out.(type) {
		case replyMsg:
			next, _ = m.Update(out)
			m = next.(chatModel)
		case tea.QuitMsg:
			quit = true
		}
	}
	return m, quit
}

// press delivers a keystroke without running the input's cursor commands.
func press(m chatModel, msg tea.KeyMsg) chatModel {
	next, _ := m.Update(msg)
	return next.(chatModel)
}

func submit(t *testing.T, m chatModel, input string) (chatModel, bool) {
	t.Helper()
	m.textarea.SetValue(input)
	return send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func TestChatGeneralTurnAndCommands(t *testing.T) {
	useTestConfig(t)
	m := newTestChat(t, route(t, types.IntentGeneralQuestion))

	m, _ = submit(t, m, "hello")
	m, _ = submit(t, m, "/session")
	m, _ = submit(t, m, "/nope")
	m, quit := submit(t, m, "/quit")
	if !quit {
		t.Fatalf("expected /quit to end the chat")
	}

	output := m.transcript()
	if !strings.Contains(output, "I'm not sure what you're asking for") {
		t.Fatalf("expected getting-started reply, got: %s", output)
	}
	if !strings.Contains(output, "0 evidence chunks · 0 outputs · 2 messages") {
		t.Fatalf("expected session card, got: %s", output)
	}
	if !strings.Contains(output, "unknown command /nope") {
		t.Fatalf("expected unknown command error, got: %s", output)
	}
	if m.busy {
		t.Fatalf("expected the chat to be idle after replies")
	}
}

func TestChatPasteIsOneTurn(t *testing.T) {
	useTestConfig(t)
	extraction := perception.MockReply{Text: `{
		"chunks": [
			{"content": "Fees at the last step felt like a trick", "evidence_type": "user_quote", "source": "Interview 4", "strength": "strong"},
			{"content": "Abandonment is 41% on the payment step", "evidence_type": "analytics_data", "source": "Funnel", "strength": "moderate"}
		],
		"summary": "Late fees drive abandonment"
	}`}
	m := newTestChat(t, route(t, types.IntentExtraction), extraction)
	paste := "Interview 4: fees felt like a trick\n\nFunnel: 41% drop on payment"

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(paste), Paste: true})
	if got := m.textarea.Value(); got != paste {
		t.Fatalf("expected the paste to stay in the input, got %q", got)
	}
	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = submit(t, m, "/validate")

	output := m.transcript()
	if !strings.Contains(output, "**Extracted 2 evidence chunks** from your input.") {
		t.Fatalf("expected extraction reply, got: %s", output)
	}
	if !strings.Contains(output, "**Validation:** 2 chunks") {
		t.Fatalf("expected validation report, got: %s", output)
	}

	msgs, err := m.app.store.GetMessages(context.Background(), m.app.engine.Current())
	if err != nil {
		t.Fatalf("GetMessages returned error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != paste {
		t.Fatalf("expected one user turn holding the whole paste, got %d messages", len(msgs))
	}
}

func TestChatAltEnterAddsLine(t *testing.T) {
	useTestConfig(t)
	m := newTestChat(t)

	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("first")})
	m = press(m, tea.KeyMsg{Type: tea.KeyEnter, Alt: true})
	m = press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("second")})

	if got := m.textarea.Value(); got != "first\nsecond" {
		t.Fatalf("expected two input lines, got %q", got)
	}
	if len(m.history) != 0 {
		t.Fatalf("expected nothing sent yet, got %d entries", len(m.history))
	}
}

func TestChatIgnoresEnterWhileBusy(t *testing.T) {
	useTestConfig(t)
	m := newTestChat(t)
	m.busy = true
	m.textarea.SetValue("second question")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(chatModel)
	if cmd != nil {
		t.Fatalf("expected no command while a turn is running")
	}
	if m.textarea.Value() != "second question" {
		t.Fatalf("expected the input to be kept, got %q", m.textarea.Value())
	}
}

func TestChatCommandUsage(t *testing.T) {
	useTestConfig(t)
	m := newTestChat(t)

	for _, line := range []string{"/challenge", "/refine", "/guide", "/use abc"} {
		m, _ = submit(t, m, line)
	}
	output := m.transcript()
	for _, want := range []string{
		"usage: /challenge",
		"usage: /refine",
		"usage: /guide",
		"usage: /use <session id>",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output, got: %s", want, output)
		}
	}
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func TestSessionsNewAndList(t *testing.T) {
	useTestConfig(t)
	newTitle, newOpportunity = "Checkout research", "Reduce payment abandonment"
	sessionsStatus, sessionsAll, sessionsLimit = "active", false, 50

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	if err := runSessionsNew(cmd, nil); err != nil {
		t.Fatalf("runSessionsNew returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Created session 1: Checkout research") {
		t.Fatalf("unexpected create output: %s", out.String())
	}

	out.Reset()
	if err := runSessionsList(cmd, nil); err != nil {
		t.Fatalf("runSessionsList returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Checkout research") {
		t.Fatalf("expected session in list, got: %s", out.String())
	}
}

func TestSessionsRenameRequiresAChange(t *testing.T) {
	useTestConfig(t)

	err := runSessionsRename(&cobra.Command{}, []string{"1"})
	if err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Fatalf("expected nothing-to-change error, got: %v", err)
	}
}
