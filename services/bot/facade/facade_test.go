package facade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatforge/engine/services/bot"
	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/installer"
	"github.com/chatforge/engine/services/bot/procexec"
	"github.com/chatforge/engine/services/bot/radar"
	"github.com/chatforge/engine/services/bot/store"
	"github.com/chatforge/engine/services/bot/supervisor"
	"github.com/chatforge/engine/services/bot/workspace"
)

// fakeStore mirrors the in-memory double used by the supervisor tests;
// duplicated here rather than exported from that package since it is test
// scaffolding, not product code.
type fakeStore struct {
	mu    sync.Mutex
	bots  map[string]*bot.Bot
	files map[string][]bot.BotFile
	logs  map[string][]bot.BotLogRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bots:  make(map[string]*bot.Bot),
		files: make(map[string][]bot.BotFile),
		logs:  make(map[string][]bot.BotLogRecord),
	}
}

func (f *fakeStore) put(b *bot.Bot, files []bot.BotFile, logs []bot.BotLogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *b
	f.bots[b.ID] = &clone
	f.files[b.ID] = files
	f.logs[b.ID] = logs
}

func (f *fakeStore) GetBot(ctx context.Context, id string) (*bot.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (f *fakeStore) CreateBot(ctx context.Context, b *bot.Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *b
	f.bots[b.ID] = &clone
	return nil
}

func (f *fakeStore) UpdateBot(ctx context.Context, id string, patch bot.Patch) (*bot.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
	if patch.PID != nil {
		b.PID = *patch.PID
	}
	clone := *b
	return &clone, nil
}

func (f *fakeStore) DeleteBot(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bots, id)
	delete(f.files, id)
	delete(f.logs, id)
	return nil
}

func (f *fakeStore) GetBotFiles(ctx context.Context, botID string) ([]bot.BotFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[botID], nil
}

func (f *fakeStore) UpdateBotFile(ctx context.Context, botID, filename, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	files := f.files[botID]
	for i, file := range files {
		if file.Name == filename {
			files[i].Content = content
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetBotLogs(ctx context.Context, botID string, limit int) ([]bot.BotLogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[botID], nil
}

func (f *fakeStore) CreateBotLog(ctx context.Context, record bot.BotLogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[record.BotID] = append(f.logs[record.BotID], record)
	return nil
}

func (f *fakeStore) CountBotsByOwner(ctx context.Context, ownerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, b := range f.bots {
		if b.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

var _ store.OwnerCounter = (*fakeStore)(nil)

func newTestFacadeWithMock(t *testing.T) (*Facade, *fakeStore, *procexec.MockRunner) {
	t.Helper()
	dir := t.TempDir()
	st := newFakeStore()
	mock := &procexec.MockRunner{
		RunCaptureFunc: func(ctx context.Context, spec procexec.Spec, onStdout, onStderr func(line string)) error {
			return nil
		},
		StartFunc: func(spec procexec.Spec) (procexec.Handle, error) {
			return procexec.NewMockHandle(1), nil
		},
	}
	bus := eventbus.New()
	sup := supervisor.New(supervisor.Config{
		Store:        st,
		Materializer: workspace.New(dir),
		Installer:    installer.New(mock, nil),
		Scanner:      radar.NewStaticScanner(),
		Runner:       mock,
		Bus:          bus,
		Quota:        radar.DefaultQuota(),
	})
	supervisor.SetTestTimings(time.Millisecond, time.Millisecond)
	return New(st, sup, bus, 0), st, mock
}

func newTestFacade(t *testing.T) (*Facade, *fakeStore) {
	f, st, _ := newTestFacadeWithMock(t)
	return f, st
}

func TestStartRejectsNonOwner(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b1", OwnerID: "owner-1", Runtime: bot.RuntimeA, Credential: "tok"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b1", Name: "main.py", Content: "print(1)\n"}}, nil)

	_, err := f.Start(context.Background(), "someone-else", "b1")
	var ownershipErr *bot.OwnershipError
	require.True(t, errors.As(err, &ownershipErr))
}

func TestStartUnknownBotReturnsNotFound(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Start(context.Background(), "owner-1", "missing")
	var notFound *bot.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestStartSucceedsForOwner(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b2", OwnerID: "owner-1", Runtime: bot.RuntimeA, Credential: "tok"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b2", Name: "main.py", Content: "print(1)\n"}}, nil)

	res, err := f.Start(context.Background(), "owner-1", "b2")
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestReadLogsReturnsNewestFirst(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b3", OwnerID: "owner-1"}
	now := time.Now()
	logs := []bot.BotLogRecord{
		{ID: "l1", BotID: "b3", Message: "first", Timestamp: now.Add(-time.Minute)},
		{ID: "l2", BotID: "b3", Message: "second", Timestamp: now},
	}
	st.put(b, nil, logs)

	got, err := f.ReadLogs(context.Background(), "owner-1", "b3", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "second", got[0].Message)
	require.Equal(t, "first", got[1].Message)
}

func TestUpdateFileRejectsUnknownFilename(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b4", OwnerID: "owner-1"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b4", Name: "main.py", Content: "x"}}, nil)

	err := f.UpdateFile(context.Background(), "owner-1", "b4", "missing.py", "y")
	require.Error(t, err)
}

func TestUpdateFileSucceedsForExistingFilename(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b5", OwnerID: "owner-1"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b5", Name: "main.py", Content: "x"}}, nil)

	err := f.UpdateFile(context.Background(), "owner-1", "b5", "main.py", "y")
	require.NoError(t, err)

	files, _ := st.GetBotFiles(context.Background(), "b5")
	require.Equal(t, "y", files[0].Content)
}

func TestDeleteStopsRunningBotFirst(t *testing.T) {
	f, st, mock := newTestFacadeWithMock(t)
	b := &bot.Bot{ID: "b6", OwnerID: "owner-1", Runtime: bot.RuntimeA, Credential: "tok"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b6", Name: "main.py", Content: "print(1)\n"}}, nil)

	var handle *procexec.MockHandle
	mock.StartFunc = func(spec procexec.Spec) (procexec.Handle, error) {
		handle = procexec.NewMockHandle(1)
		return handle, nil
	}

	_, err := f.Start(context.Background(), "owner-1", "b6")
	require.NoError(t, err)
	require.True(t, f.supervisor.IsRunning("b6"))

	go func() {
		// Stand in for a child that honors the graceful signal promptly.
		time.Sleep(5 * time.Millisecond)
		handle.Finish(nil)
	}()

	err = f.Delete(context.Background(), "owner-1", "b6")
	require.NoError(t, err)
	require.True(t, handle.WasSignaled())
	require.False(t, f.supervisor.IsRunning("b6"))

	_, err = st.GetBot(context.Background(), "b6")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestIsRunningReflectsSupervisorState(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b8", OwnerID: "owner-1", Runtime: bot.RuntimeA, Credential: "tok"}
	st.put(b, []bot.BotFile{{ID: "f1", BotID: "b8", Name: "main.py", Content: "print(1)\n"}}, nil)

	running, err := f.IsRunning(context.Background(), "owner-1", "b8")
	require.NoError(t, err)
	require.False(t, running)

	_, err = f.Start(context.Background(), "owner-1", "b8")
	require.NoError(t, err)

	running, err = f.IsRunning(context.Background(), "owner-1", "b8")
	require.NoError(t, err)
	require.True(t, running)
}

func TestStopOnNonRunningBotIsIdempotent(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b9", OwnerID: "owner-1"}
	st.put(b, nil, nil)

	res, err := f.Stop(context.Background(), "owner-1", "b9")
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestRestartRejectsNonOwner(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b10", OwnerID: "owner-1"}
	st.put(b, nil, nil)

	_, err := f.Restart(context.Background(), "someone-else", "b10")
	var ownershipErr *bot.OwnershipError
	require.True(t, errors.As(err, &ownershipErr))
}

func TestCreateBotRejectsWhenOwnerAtCap(t *testing.T) {
	f, st, _ := newTestFacadeWithMock(t)
	f.maxBotsPerUser = 1
	st.put(&bot.Bot{ID: "existing", OwnerID: "owner-1"}, nil, nil)

	_, err := f.CreateBot(context.Background(), "owner-1", "second-bot", bot.RuntimeA, "tok")
	var quotaErr *bot.BotQuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
}

func TestCreateBotSucceedsUnderCap(t *testing.T) {
	f, _, _ := newTestFacadeWithMock(t)
	f.maxBotsPerUser = 2

	b, err := f.CreateBot(context.Background(), "owner-1", "my-bot", bot.RuntimeA, "tok")
	require.NoError(t, err)
	require.Equal(t, "owner-1", b.OwnerID)
	require.Equal(t, bot.StatusStopped, b.Status)
}

func TestDeleteBroadcastsBotDeleted(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b11", OwnerID: "owner-1"}
	st.put(b, nil, nil)

	statusCh, unsubscribe := f.bus.SubscribeStatus("owner-1")
	defer unsubscribe()

	err := f.Delete(context.Background(), "owner-1", "b11")
	require.NoError(t, err)

	select {
	case msg := <-statusCh:
		require.Equal(t, "bot_deleted", msg.Type)
		require.Equal(t, "b11", msg.BotID)
	case <-time.After(time.Second):
		t.Fatal("expected a bot_deleted broadcast")
	}
}

func TestDeleteRejectsNonOwner(t *testing.T) {
	f, st := newTestFacade(t)
	b := &bot.Bot{ID: "b7", OwnerID: "owner-1"}
	st.put(b, nil, nil)

	err := f.Delete(context.Background(), "someone-else", "b7")
	var ownershipErr *bot.OwnershipError
	require.True(t, errors.As(err, &ownershipErr))
}
