// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/neochat/internal/model"
	"github.com/jeranaias/neochat/internal/stream"
	"github.com/jeranaias/neochat/internal/util"
)

const (
	// MaxTitleWords is the number of words kept from a generated title.
	MaxTitleWords = 3

	// MaxTitleRunes caps the title length.
	MaxTitleRunes = 30
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	thinkPattern  = regexp.MustCompile(`(?i)\bthink\b`)
	prefixPattern = regexp.MustCompile(`(?i)^\s*title\s*:`)
	quoteReplacer = strings.NewReplacer(
		`"`, "", "'", "", "`", "",
		"“", "", "”", "", "‘", "", "’", "",
		"<", "", ">", "",
	)
)

// SanitizeTitle turns raw model output into a short conversation title.
// It falls back to model.DefaultTitle when nothing usable remains.
func SanitizeTitle(raw string) string {
	s := stream.StripThink(raw)
	s = norm.NFKC.String(s)
	s = prefixPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, " ")
	s = quoteReplacer.Replace(s)
	s = thinkPattern.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	if len(words) > MaxTitleWords {
		words = words[:MaxTitleWords]
	}
	s = strings.TrimSpace(util.TruncateRunesNoEllipsis(strings.Join(words, " "), MaxTitleRunes))

	if s == "" {
		return model.DefaultTitle
	}
	return s
}
