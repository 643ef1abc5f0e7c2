package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/intakeflow/internal/compose"
	"github.com/ashureev/intakeflow/internal/engine"
	"github.com/ashureev/intakeflow/internal/extract"
	"github.com/ashureev/intakeflow/internal/flow"
	"github.com/ashureev/intakeflow/internal/inference"
)

func offlineProcessor() *engine.Processor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return engine.NewProcessor(flow.Default(),
		extract.New(inference.Offline{}, logger),
		compose.New(inference.Offline{}, logger),
		engine.WithLogger(logger),
	)
}

func TestChatStopsAtEOF(t *testing.T) {
	var out bytes.Buffer
	err := chat(context.Background(), offlineProcessor(), "cli", nil, strings.NewReader("Rahul\n\n"), &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "[onboarding")
	assert.Equal(t, 2, strings.Count(text, "[onboarding"))
	assert.NotContains(t, text, "Collected profile")
}

func TestChatAppliesPrefillOnFirstTurn(t *testing.T) {
	prefill := map[string]any{
		"email": "rahul@example.com",
		"role":  "engineer",
		"goal":  "move into data engineering",
	}
	var out bytes.Buffer
	err := chat(context.Background(), offlineProcessor(), "cli", prefill, strings.NewReader("hello\n"), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[context")
	assert.Contains(t, out.String(), "options: ")
}

func TestChatReportsInvalidInput(t *testing.T) {
	var out bytes.Buffer
	long := strings.Repeat("a", engine.MaxMessageLength+1)
	err := chat(context.Background(), offlineProcessor(), "cli", nil, strings.NewReader(long+"\n"), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "! invalid")
}
