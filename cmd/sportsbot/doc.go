// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Sportsbot forwards news from the Sports.ru RSS feed to a Telegram channel and
talks to people who write to it.

# Usage

	$ sportsbot [flags...] <command>

Commands:

  - run: poll the feed and forward new entries every POLL_INTERVAL, answer
    private chats, groups and channel posts, and serve the admin API if
    ADMIN_ADDR is set. Runs until interrupted.
  - once: run a single polling cycle and exit.
  - seen: print identifiers of entries that were already forwarded, oldest
    first.
  - stats: print the number of users, messages, warnings and feedback
    messages, and the latest feedback.

# Environment Variables

  - TELEGRAM_TOKEN: Telegram bot token. Required by run and once.
  - CHANNEL_ID: channel to forward news to, as @username or a numeric ID.
    Required by run and once.
  - FEED_URL: feed to poll. Defaults to https://www.sports.ru/rss/all_news.xml.
  - POLL_INTERVAL: time between two polling cycles. Defaults to 5m.
  - SEND_DELAY: pause between two forwarded entries. Defaults to 2s; 0
    forwards them back to back.
  - STATE_DIRECTORY: directory for the seen set, the database and the run
    lock. Defaults to $XDG_STATE_HOME/sportsbot.
  - DATABASE_URL: database for the journal and dialog state. A
    postgres:// URL selects PostgreSQL; anything else is a path to an SQLite
    file. Defaults to sportsbot.db in the state directory.
  - SEEN_LIMIT: maximum number of remembered entries. After each cycle the
    oldest entries that are no longer in the feed are forgotten first. Zero,
    the default, means no limit.
  - RULES_FILE: optional Starlark file with a block_rule function.
  - ADMIN_IDS: comma-separated Telegram user IDs allowed to see statistics
    and receive feedback.
  - ADMIN_ADDR: address of the admin HTTP server, for example localhost:3000.
    The server is not started if empty.
  - SUPPORT_URL: link shown on the support button of the feedback dialog.
  - BAD_WORDS: comma-separated words removed from groups. Defaults to a
    built-in list.

Variables can also be put into a .env file in the working directory, or into
a file passed with -env. Variables set in the environment take precedence.

# Block Rules

The file named by RULES_FILE must define a block_rule function. It gets an
entry and returns True if the entry should not be forwarded:

	def block_rule(entry):
	    return "ставки" in entry.title.lower()

The entry has the fields id, title, body, link and published. Blocked entries
are still remembered as seen. If the rule fails, the entry is forwarded.

# Dry Run

With -dry, sportsbot logs the messages it would send, delete or answer
instead of calling Telegram, and doesn't save the seen set. Updates are still
received, so dialogs can be tried out without touching the channel.

# Admin API

  - /health: health checks of the poller, the dispatcher and the database.
  - /api/seen: remembered entry identifiers.
  - /api/stats: recent polling cycles and journal totals.
  - /debug/logs: recent log lines; streamed with Accept: text/event-stream.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/sportsbot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
