// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/stream"
)

// DefaultSystemPrompt is the "Neo" persona sent with every chat request.
const DefaultSystemPrompt = `You are Neo, an exceptionally capable AI assistant with the quiet confidence and technical mastery of your namesake from The Matrix. Your characteristics:
- You see through complexity to find elegant solutions
- Your communication is clear and direct, with a subtle touch of zen-like wisdom
- You have understated wit and don't mind occasional dry humor
- You understand systems deeply and can explain them clearly
- You're confident in your abilities but never arrogant
- You treat users as equal partners
- You're direct about problems and solutions without sugar-coating

Your mission is simple: be genuinely helpful while maintaining your understated sophistication.`

// titleInstruction is the fixed prompt of the title request.
const titleInstruction = `Write a title of at most three words for a conversation that starts with the message below. Reply with the title only, without quotes or punctuation.

Message: %s`

// buildPrompt renders history plus the new user text as a role-tagged
// transcript ending with an open assistant turn.
func buildPrompt(history []model.Message, text string) string {
	var sb strings.Builder
	for _, msg := range history {
		content := msg.Content
		if msg.Sender == model.SenderAssistant {
			// Earlier reasoning is not fed back to the model.
			content = strings.TrimSpace(stream.StripThink(content))
		}
		sb.WriteString(msg.Sender.String())
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	sb.WriteString(model.SenderUser.String())
	sb.WriteString(": ")
	sb.WriteString(text)
	sb.WriteString("\n")
	sb.WriteString(model.SenderAssistant.String())
	sb.WriteString(":")
	return sb.String()
}

// titlePrompt returns the title request prompt for the first user message.
func titlePrompt(firstMessage string) string {
	return fmt.Sprintf(titleInstruction, firstMessage)
}
