// Package facade implements the Engine Facade (spec §4.8): the single
// entry point HTTP collaborators call into. Every operation validates
// ownership before delegating to the store or the Supervisor, so no
// caller can act on a bot it does not own.
package facade

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/store"
	"github.com/chatforge/engine/services/bot/supervisor"
)

// Facade is the engine's one consumer-facing surface.
type Facade struct {
	store      store.Store
	supervisor *supervisor.Supervisor
	bus        *eventbus.Bus

	// maxBotsPerUser is the MAX_BOTS_PER_USER cap (spec §6), enforced at
	// creation time. Zero means unlimited.
	maxBotsPerUser int
}

// New constructs a Facade over a store and the Supervisor that owns the
// live Process Handles. maxBotsPerUser is the MAX_BOTS_PER_USER cap; pass 0
// for unlimited.
func New(st store.Store, sup *supervisor.Supervisor, bus *eventbus.Bus, maxBotsPerUser int) *Facade {
	return &Facade{store: st, supervisor: sup, bus: bus, maxBotsPerUser: maxBotsPerUser}
}

// CreateBot implements bot creation: enforces MAX_BOTS_PER_USER via the
// store's optional OwnerCounter capability, then persists a new Bot owned
// by callerID in StatusStopped with no files.
func (f *Facade) CreateBot(ctx context.Context, callerID, name string, runtime bot.Runtime, credential string) (*bot.Bot, error) {
	if counter, ok := f.store.(store.OwnerCounter); ok && f.maxBotsPerUser > 0 {
		count, err := counter.CountBotsByOwner(ctx, callerID)
		if err != nil {
			return nil, err
		}
		if count >= f.maxBotsPerUser {
			return nil, &bot.BotQuotaExceededError{OwnerID: callerID, Limit: f.maxBotsPerUser}
		}
	}

	now := time.Now()
	b := &bot.Bot{
		ID:         uuid.NewString(),
		OwnerID:    callerID,
		Name:       name,
		Runtime:    runtime,
		Credential: credential,
		Status:     bot.StatusStopped,
		Memory:     "0MB",
		CPU:        "0%",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.store.CreateBot(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ownedBot loads a bot and checks the caller owns it, returning the
// taxonomy errors the HTTP collaborator maps to 404/403 respectively.
func (f *Facade) ownedBot(ctx context.Context, callerID, botID string) (*bot.Bot, error) {
	b, err := f.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &bot.NotFoundError{ID: botID}
		}
		return nil, err
	}
	if b.OwnerID != callerID {
		return nil, &bot.OwnershipError{ID: botID}
	}
	return b, nil
}

// Start implements the start(id) operation.
func (f *Facade) Start(ctx context.Context, callerID, botID string) (bot.Result, error) {
	b, err := f.ownedBot(ctx, callerID, botID)
	if err != nil {
		return bot.Result{}, err
	}
	return f.supervisor.Start(ctx, b), nil
}

// Stop implements the stop(id) operation.
func (f *Facade) Stop(ctx context.Context, callerID, botID string) (bot.Result, error) {
	b, err := f.ownedBot(ctx, callerID, botID)
	if err != nil {
		return bot.Result{}, err
	}
	return f.supervisor.Stop(ctx, b), nil
}

// Restart implements the restart(id) operation.
func (f *Facade) Restart(ctx context.Context, callerID, botID string) (bot.Result, error) {
	b, err := f.ownedBot(ctx, callerID, botID)
	if err != nil {
		return bot.Result{}, err
	}
	return f.supervisor.Restart(ctx, b), nil
}

// IsRunning implements the isRunning(id) operation named in spec.md §2's
// Facade operation list.
func (f *Facade) IsRunning(ctx context.Context, callerID, botID string) (bool, error) {
	if _, err := f.ownedBot(ctx, callerID, botID); err != nil {
		return false, err
	}
	return f.supervisor.IsRunning(botID), nil
}

// ReadLogs implements readLogs(id, limit), returning records newest-first.
func (f *Facade) ReadLogs(ctx context.Context, callerID, botID string, limit int) ([]bot.BotLogRecord, error) {
	if _, err := f.ownedBot(ctx, callerID, botID); err != nil {
		return nil, err
	}
	records, err := f.store.GetBotLogs(ctx, botID, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []bot.BotLogRecord{}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	return records, nil
}

// UpdateFile implements updateFile(id, name, content): the filename must
// already exist on the bot, matching the spec's "unknown-filename" failure
// mode (this operation edits an existing file; it does not add new ones).
func (f *Facade) UpdateFile(ctx context.Context, callerID, botID, filename, content string) error {
	if _, err := f.ownedBot(ctx, callerID, botID); err != nil {
		return err
	}
	files, err := f.store.GetBotFiles(ctx, botID)
	if err != nil {
		return err
	}
	found := false
	for _, fl := range files {
		if fl.Name == filename {
			found = true
			break
		}
	}
	if !found {
		return &bot.UnknownFilenameError{BotID: botID, Filename: filename}
	}
	return f.store.UpdateBotFile(ctx, botID, filename, content)
}

// Delete implements delete(id): stop if running, then remove persisted
// files, logs, and the bot record, in that order, per spec.md §4.8, and
// broadcasts bot_deleted to the owner's status subscriber (scenario F).
func (f *Facade) Delete(ctx context.Context, callerID, botID string) error {
	b, err := f.ownedBot(ctx, callerID, botID)
	if err != nil {
		return err
	}
	if f.supervisor.IsRunning(botID) {
		f.supervisor.Stop(ctx, b)
	}
	if err := f.store.DeleteBot(ctx, botID); err != nil {
		return err
	}
	f.bus.BroadcastStatus(b.OwnerID, eventbus.NewBotDeleted(botID))
	return nil
}
