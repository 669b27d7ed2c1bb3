// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth gates access to a neochat session.
//
// Credentials come from an AUTH_USERS style list ("alice:pw,bob:pw") and are
// compared as given. A successful login yields an HS256 session token that
// the HTTP server accepts as a bearer token.
package auth
