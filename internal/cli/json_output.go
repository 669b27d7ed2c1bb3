// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/ollama"
)

// JSONResponse is the envelope of every --json output.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Error     *string     `json:"error"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command,omitempty"`
}

// NewJSONResponse wraps data in a successful envelope.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse wraps err in a failed envelope.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the envelope to w, indented.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode %s response: %w", r.Command, err)
	}
	return nil
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData is the payload of "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// ModelsData is the payload of "models --json".
type ModelsData struct {
	Models   []ollama.ModelInfo `json:"models"`
	Selected string             `json:"selected"`
}

// StatusData is the payload of "status --json".
type StatusData struct {
	Ollama      string       `json:"ollama"`
	OllamaURL   string       `json:"ollama_url"`
	OllamaError string       `json:"ollama_error,omitempty"`
	Model       string       `json:"model"`
	ModelStatus string       `json:"model_status"`
	Archive     string       `json:"archive"`
	ConfigPath  string       `json:"config_path"`
	Limits      StatusLimits `json:"limits"`
}

// StatusLimits reports the configured caps.
type StatusLimits struct {
	MaxConversations   int   `json:"max_conversations"`
	MaxVisibleMessages int   `json:"max_visible_messages"`
	CleanupThreshold   int   `json:"cleanup_threshold"`
	RequestTimeoutMs   int64 `json:"request_timeout_ms"`
	UpdateThresholdMs  int64 `json:"update_threshold_ms"`
}

// HistoryData is the payload of "history --json".
type HistoryData struct {
	ConversationID string          `json:"conversation_id"`
	Offset         int             `json:"offset"`
	Total          int             `json:"total"`
	Messages       []model.Message `json:"messages"`
}

// AskData is the payload of "ask --json".
type AskData struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Response       string `json:"response"`
	Thinking       string `json:"thinking,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
}
