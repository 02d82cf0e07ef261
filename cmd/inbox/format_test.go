// ABOUTME: Tests for the inbox client's directory and thread formatting
// ABOUTME: Colors are disabled so output can be compared as plain text

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/directory"
	"github.com/halfattire/inbox/internal/thread"
)

func withoutColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestFormatEntry(t *testing.T) {
	withoutColor(t)

	e := directory.Entry{ConversationID: "c1", PeerID: "s1", Label: "s1", Preview: directory.NoMessagesLabel, Valid: true, PeerOnline: true}
	assert.Equal(t, "● c1  s1  No messages yet", formatEntry(e))

	broken := directory.Entry{ConversationID: "c2", Label: directory.UnknownLabel, Preview: "hi"}
	assert.Equal(t, "○ c2  Unknown conversation  hi", formatEntry(broken))
}

func TestFormatMessage(t *testing.T) {
	withoutColor(t)
	at := time.Date(2026, 1, 2, 15, 4, 0, 0, time.Local)

	own := thread.Entry{Message: chat.Message{Sender: "b1", Text: "hello", CreatedAt: at}, Status: thread.StatusPending}
	assert.Equal(t, "15:04 you: hello (sending)", formatMessage("b1", own))

	failed := thread.Entry{Message: chat.Message{Sender: "b1", Text: "lost", CreatedAt: at}, Status: thread.StatusFailed, Failure: errors.New("x")}
	assert.Equal(t, "15:04 you: lost (failed)", formatMessage("b1", failed))

	peer := thread.Entry{Message: chat.Message{Sender: "s1", Images: []string{"a.png"}, CreatedAt: at}, Status: thread.StatusConfirmed}
	assert.Equal(t, "15:04 s1: [1 image(s): a.png]", formatMessage("b1", peer))
}

func TestPrintDirectory_Empty(t *testing.T) {
	withoutColor(t)
	var buf bytes.Buffer
	printDirectory(&buf, nil)
	assert.Equal(t, "No conversations yet\n", buf.String())
}
