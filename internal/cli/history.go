// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
)

// HandleHistory prints the archived messages of a conversation. Only
// persistent archive backends keep them across runs.
func HandleHistory(ctx context.Context, app *App, args Args) error {
	total := app.Archive.Len(ctx, args.ConversationID)
	msgs := app.Archive.Read(ctx, args.ConversationID, args.Offset, args.Count)

	if args.JSON {
		return NewJSONResponse("history", HistoryData{
			ConversationID: args.ConversationID,
			Offset:         args.Offset,
			Total:          total,
			Messages:       msgs,
		}).Write(app.Out)
	}

	if total == 0 {
		fmt.Fprintf(app.Out, "No archived messages for %s (archive backend: %s).\n",
			args.ConversationID, app.Config.Archive.Backend)
		return nil
	}

	if !args.Quiet {
		fmt.Fprintln(app.Out, DimStyle.Render(fmt.Sprintf("%d archived messages, showing %d from offset %d",
			total, len(msgs), args.Offset)))
	}
	for _, m := range msgs {
		printMessage(app.Out, m, args.HideThinking)
	}
	return nil
}
