// Package store provides the persistence interface the bot engine depends
// on, and an embedded BadgerDB-backed implementation. Persistence is
// "common infrastructure" per the engine's own scope — this package exists
// only so the engine is runnable standalone, and the interface is the only
// shape the rest of the engine is allowed to depend on.
package store

import (
	"context"

	"github.com/chatforge/engine/services/bot"
)

// Store is the persistence interface consumed by the bot engine (spec §6).
type Store interface {
	GetBot(ctx context.Context, id string) (*bot.Bot, error)
	CreateBot(ctx context.Context, b *bot.Bot) error
	UpdateBot(ctx context.Context, id string, patch bot.Patch) (*bot.Bot, error)
	DeleteBot(ctx context.Context, id string) error

	GetBotFiles(ctx context.Context, botID string) ([]bot.BotFile, error)
	UpdateBotFile(ctx context.Context, botID, filename, content string) error

	GetBotLogs(ctx context.Context, botID string, limit int) ([]bot.BotLogRecord, error)
	CreateBotLog(ctx context.Context, record bot.BotLogRecord) error
}

// OwnerCounter is an optional capability a Store backend may implement to
// report how many bots a given owner currently has. It is kept separate
// from Store because counting by owner is an ambient concern the HTTP
// collaborator needs for the MAX_BOTS_PER_USER cap (spec §6), not part of
// the core persistence contract the engine itself depends on.
type OwnerCounter interface {
	CountBotsByOwner(ctx context.Context, ownerID string) (int, error)
}

// ErrNotFound is returned by GetBot and UpdateBot when the bot does not
// exist. DeleteBot of a missing bot is not an error.
var ErrNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "store: not found" }
