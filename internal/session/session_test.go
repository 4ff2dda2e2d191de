package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contentdesk/worksync/internal/event"
	"github.com/contentdesk/worksync/internal/store"
	"github.com/contentdesk/worksync/internal/studio"
	"github.com/contentdesk/worksync/internal/syncer"
)

// ========================================
// 测试替身
// ========================================

type fakeCommander struct {
	mu sync.Mutex

	threads   []studio.Thread
	threadErr error

	sent       []studio.SendRequest
	steered    []string
	interrupts []string
	reorders   [][]string
	cancels    []string
	resolves   [][2]string
	bootstraps []string
	pins       []string

	created        []string
	createdBranch  []string
	sendErr        error
	bootstrapErr   error
	createdThreads int
}

func (f *fakeCommander) Threads(ctx context.Context) ([]studio.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads, f.threadErr
}

func (f *fakeCommander) SendMessage(ctx context.Context, branchID string, req studio.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeCommander) Steer(ctx context.Context, branchID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steered = append(f.steered, note)
	return nil
}

func (f *fakeCommander) Interrupt(ctx context.Context, branchID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, reason)
	return nil
}

func (f *fakeCommander) ReorderQueue(ctx context.Context, branchID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders = append(f.reorders, ids)
	return nil
}

func (f *fakeCommander) CancelQueued(ctx context.Context, branchID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, itemID)
	return nil
}

func (f *fakeCommander) ResolveDecision(ctx context.Context, branchID, decisionID, option string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, [2]string{decisionID, option})
	return nil
}

func (f *fakeCommander) CreateThread(ctx context.Context, title string) (studio.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdThreads++
	f.created = append(f.created, title)
	return studio.Thread{
		ID:       "t-new",
		Title:    title,
		Branches: []studio.Branch{{ID: "br-new", ThreadID: "t-new", Name: "main"}},
	}, nil
}

func (f *fakeCommander) CreateBranch(ctx context.Context, threadID, name string) (studio.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBranch = append(f.createdBranch, name)
	return studio.Branch{ID: "br-" + name, ThreadID: threadID, Name: name}, nil
}

func (f *fakeCommander) PinBranch(ctx context.Context, branchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = append(f.pins, branchID)
	return nil
}

func (f *fakeCommander) Bootstrap(ctx context.Context, branchID string, req studio.BootstrapRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bootstrapErr != nil {
		return f.bootstrapErr
	}
	f.bootstraps = append(f.bootstraps, branchID)
	return nil
}

func (f *fakeCommander) bootstrapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bootstraps)
}

type fakeSync struct {
	mu        sync.Mutex
	active    string
	activated []string
	resyncs   []string
	views     map[string]syncer.View
}

func newFakeSync() *fakeSync {
	return &fakeSync{views: map[string]syncer.View{}}
}

func (f *fakeSync) ActivateBranch(branchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = branchID
	f.activated = append(f.activated, branchID)
}

func (f *fakeSync) ForceResync(branchID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs = append(f.resyncs, branchID)
}

func (f *fakeSync) BranchView(branchID string) (syncer.View, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[branchID]
	return v, ok
}

func (f *fakeSync) ActiveBranch() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSync) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resyncs)
}

func newTestController(cmd *fakeCommander, fs *fakeSync) *Controller {
	return New("ws-1", cmd, fs, store.NewPreferenceManager(nil))
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ========================================
// 启动与结构保障
// ========================================

func TestStartActivatesFirstBranch(t *testing.T) {
	cmd := &fakeCommander{threads: []studio.Thread{
		{ID: "t1", Branches: []studio.Branch{{ID: "br-1"}, {ID: "br-2"}}},
	}}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fs.ActiveBranch() != "br-1" {
		t.Errorf("active = %q, want br-1", fs.ActiveBranch())
	}
}

func TestStartCreatesThreadWhenEmpty(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cmd.createdThreads != 1 {
		t.Errorf("created threads = %d, want 1", cmd.createdThreads)
	}
	if fs.ActiveBranch() != "br-new" {
		t.Errorf("active = %q, want br-new", fs.ActiveBranch())
	}
}

func TestStartHonorsRememberedBranch(t *testing.T) {
	cmd := &fakeCommander{threads: []studio.Thread{
		{ID: "t1", Branches: []studio.Branch{{ID: "br-1"}, {ID: "br-2"}}},
	}}
	fs := newFakeSync()
	prefs := store.NewPreferenceManager(nil)
	c := New("ws-1", cmd, fs, prefs)

	if err := prefs.Set(context.Background(), prefActiveBranch, "br-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fs.ActiveBranch() != "br-2" {
		t.Errorf("active = %q, want remembered br-2", fs.ActiveBranch())
	}
}

func TestStartStaleRememberedBranchFallsBack(t *testing.T) {
	cmd := &fakeCommander{threads: []studio.Thread{
		{ID: "t1", Branches: []studio.Branch{{ID: "br-1"}}},
	}}
	fs := newFakeSync()
	prefs := store.NewPreferenceManager(nil)
	c := New("ws-1", cmd, fs, prefs)

	_ = prefs.Set(context.Background(), prefActiveBranch, "br-deleted")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if fs.ActiveBranch() != "br-1" {
		t.Errorf("active = %q, want fallback br-1", fs.ActiveBranch())
	}
}

func TestStartPropagatesThreadsError(t *testing.T) {
	cmd := &fakeCommander{threadErr: errors.New("backend down")}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when thread listing fails")
	}
}

// ========================================
// 自动引导
// ========================================

func emptyView(branchID string) syncer.View {
	return syncer.View{BranchID: branchID, SyncedAt: time.Now().UTC()}
}

func TestAutoBootstrapEmptyBranchOnce(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	c.OnViewChanged(emptyView("br-1"))
	waitFor(t, time.Second, "bootstrap", func() bool {
		return cmd.bootstrapCount() == 1
	})

	// 再次收到空视图: 不重复引导
	c.OnViewChanged(emptyView("br-1"))
	time.Sleep(50 * time.Millisecond)
	if got := cmd.bootstrapCount(); got != 1 {
		t.Errorf("bootstraps = %d, want exactly 1", got)
	}
}

func TestNoBootstrapBeforeFirstSync(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	// SyncedAt 零值: 还没同步过, 不能断定分支为空
	c.OnViewChanged(syncer.View{BranchID: "br-1"})
	time.Sleep(50 * time.Millisecond)
	if got := cmd.bootstrapCount(); got != 0 {
		t.Errorf("bootstraps = %d, want 0", got)
	}
}

func TestNoBootstrapWhenBranchHasContent(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	view := emptyView("br-1")
	view.Messages = []studio.Message{{ID: "m1"}}
	c.OnViewChanged(view)
	time.Sleep(50 * time.Millisecond)
	if got := cmd.bootstrapCount(); got != 0 {
		t.Errorf("bootstraps = %d, want 0", got)
	}
}

func TestBootstrapFailureAllowsRetry(t *testing.T) {
	cmd := &fakeCommander{bootstrapErr: errors.New("boom")}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	c.OnViewChanged(emptyView("br-1"))
	time.Sleep(50 * time.Millisecond)

	cmd.mu.Lock()
	cmd.bootstrapErr = nil
	cmd.mu.Unlock()

	c.OnViewChanged(emptyView("br-1"))
	waitFor(t, time.Second, "retried bootstrap", func() bool {
		return cmd.bootstrapCount() == 1
	})
}

// ========================================
// 命令
// ========================================

func TestSendResyncsAfterSuccess(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	if err := c.Send(context.Background(), "hello", studio.SendModeSend); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(cmd.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(cmd.sent))
	}
	if cmd.sent[0].Mode != studio.SendModeSend {
		t.Errorf("mode = %q", cmd.sent[0].Mode)
	}
	if cmd.sent[0].UserID == "" {
		t.Error("UserID should carry the session client id")
	}
	if cmd.sent[0].Policy.ToolConcurrency != 2 {
		t.Errorf("policy toolConcurrency = %d, want default 2", cmd.sent[0].Policy.ToolConcurrency)
	}
	if fs.resyncCount() != 1 {
		t.Errorf("resyncs = %d, want 1", fs.resyncCount())
	}
}

func TestSendErrorSkipsResync(t *testing.T) {
	cmd := &fakeCommander{sendErr: errors.New("rejected")}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	if err := c.Send(context.Background(), "hello", studio.SendModeSend); err == nil {
		t.Fatal("Send should propagate the error")
	}
	if fs.resyncCount() != 0 {
		t.Errorf("resyncs = %d, want 0 on failure", fs.resyncCount())
	}
}

func TestSendRejectsEmptyContent(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	if err := c.Send(context.Background(), "   ", studio.SendModeSend); err == nil {
		t.Fatal("blank content should be rejected")
	}
}

func TestSendWithoutActiveBranchFails(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	if err := c.Send(context.Background(), "hello", studio.SendModeSend); err == nil {
		t.Fatal("Send without active branch should fail")
	}
}

func TestQueueModePreserved(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	if err := c.Send(context.Background(), "later", studio.SendModeQueue); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if cmd.sent[0].Mode != studio.SendModeQueue {
		t.Errorf("mode = %q, want queue", cmd.sent[0].Mode)
	}
}

func TestPolicyReflectsPreferences(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	prefs := store.NewPreferenceManager(nil)
	c := New("ws-1", cmd, fs, prefs)

	ctx := context.Background()
	_ = prefs.Set(ctx, store.PrefToolConcurrency, 4)
	_ = prefs.Set(ctx, store.PrefAutoContinue, false)

	if err := c.Send(ctx, "go", studio.SendModeSend); err != nil {
		t.Fatalf("Send: %v", err)
	}
	p := cmd.sent[0].Policy
	if p.ToolConcurrency != 4 {
		t.Errorf("toolConcurrency = %d, want 4", p.ToolConcurrency)
	}
	if p.AutoContinue {
		t.Error("autoContinue should honor preference false")
	}
}

func TestResolveDecisionValidation(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	if err := c.ResolveDecision(context.Background(), "", "approve"); err == nil {
		t.Fatal("missing decision id should fail")
	}
	if err := c.ResolveDecision(context.Background(), "d1", ""); err == nil {
		t.Fatal("missing option should fail")
	}
	if err := c.ResolveDecision(context.Background(), "d1", "approve"); err != nil {
		t.Fatalf("ResolveDecision: %v", err)
	}
	if cmd.resolves[0] != [2]string{"d1", "approve"} {
		t.Errorf("resolve = %v", cmd.resolves[0])
	}
	if fs.resyncCount() != 1 {
		t.Errorf("resyncs = %d, want 1", fs.resyncCount())
	}
}

func TestCreateBranchSwitches(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	c := newTestController(cmd, fs)

	branch, err := c.CreateBranch(context.Background(), "t1", "alt")
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if fs.ActiveBranch() != branch.ID {
		t.Errorf("active = %q, want %q", fs.ActiveBranch(), branch.ID)
	}
}

func TestSwitchBranchRemembersChoice(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	prefs := store.NewPreferenceManager(nil)
	c := New("ws-1", cmd, fs, prefs)

	ctx := context.Background()
	c.SwitchBranch(ctx, "br-9")
	if fs.ActiveBranch() != "br-9" {
		t.Errorf("active = %q", fs.ActiveBranch())
	}
	if got := prefs.GetString(ctx, prefActiveBranch, ""); got != "br-9" {
		t.Errorf("remembered = %q, want br-9", got)
	}
}

// ========================================
// 快照与订阅
// ========================================

func TestSnapshotExposesActiveView(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	fs.views["br-1"] = syncer.View{
		BranchID: "br-1",
		Threads:  []studio.Thread{{ID: "t1"}},
		SyncedAt: time.Now().UTC(),
	}
	c := newTestController(cmd, fs)

	snap := c.Snapshot(context.Background())
	if snap.ActiveBranch != "br-1" {
		t.Errorf("activeBranch = %q", snap.ActiveBranch)
	}
	if len(snap.View.Threads) != 1 {
		t.Errorf("threads = %d, want 1", len(snap.View.Threads))
	}
	if snap.WorkspaceID != "ws-1" {
		t.Errorf("workspaceId = %q", snap.WorkspaceID)
	}
}

// ========================================
// 与同步引擎的真实接线
// ========================================

// quietTransport 满足 syncer.Transport 的最小替身: 分支上有一个运行,
// 避免空分支触发自动引导。
type quietTransport struct{}

func (quietTransport) Threads(ctx context.Context) ([]studio.Thread, error) { return nil, nil }
func (quietTransport) Messages(ctx context.Context, branchID string) ([]studio.Message, error) {
	return nil, nil
}
func (quietTransport) Events(ctx context.Context, branchID string, afterSeq int64, afterID string) ([]event.Raw, error) {
	return nil, nil
}
func (quietTransport) Queue(ctx context.Context, branchID string) ([]studio.QueueItem, error) {
	return nil, nil
}
func (quietTransport) State(ctx context.Context, branchID string) (studio.BranchState, error) {
	return studio.BranchState{Runs: []studio.ActiveRun{{ID: "r1", Status: "running"}}}, nil
}
func (quietTransport) References(ctx context.Context) ([]studio.ReferenceItem, error) {
	return nil, nil
}
func (quietTransport) IssueChannelToken(ctx context.Context, branchID string) (studio.ChannelToken, error) {
	return studio.ChannelToken{}, nil
}

type noDialer struct{}

func (noDialer) DialChannel(ctx context.Context, branchID string, afterSeq int64, afterID, token string, cb studio.ChannelCallbacks) (syncer.Channel, error) {
	return nil, errors.New("no push channel")
}

type viewListener func(syncer.View)

func (l viewListener) OnViewChanged(v syncer.View) { l(v) }

// 引擎在自己的锁内通知监听方; 快照构造会反查引擎, 必须发生在锁外,
// 否则首次基线拉取就会把整个引擎锁死。
func TestSubscriberDoesNotStallEngine(t *testing.T) {
	cmd := &fakeCommander{}
	prefs := store.NewPreferenceManager(nil)

	var ctrl *Controller
	eng := syncer.New(quietTransport{}, noDialer{},
		viewListener(func(v syncer.View) { ctrl.OnViewChanged(v) }), nil,
		syncer.Options{
			PollHot:               50 * time.Millisecond,
			PollIdle:              150 * time.Millisecond,
			OpenResyncDelay:       10 * time.Millisecond,
			StructuralResyncDelay: 20 * time.Millisecond,
			ReconnectBase:         20 * time.Millisecond,
			ReconnectMax:          80 * time.Millisecond,
		})
	defer eng.Close()
	ctrl = New("ws-1", cmd, eng, prefs)

	received := make(chan Snapshot, 8)
	ctrl.Subscribe(func(s Snapshot) {
		select {
		case received <- s:
		default: // 轮询会持续发布, 溢出的快照直接丢
		}
	})

	eng.ActivateBranch("br-1")

	select {
	case snap := <-received:
		if snap.ActiveBranch != "br-1" {
			t.Errorf("snapshot activeBranch = %q, want br-1", snap.ActiveBranch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never notified after baseline pull")
	}

	// 发布完成后引擎锁必须已释放
	done := make(chan string, 1)
	go func() { done <- eng.ActiveBranch() }()
	select {
	case active := <-done:
		if active != "br-1" {
			t.Errorf("ActiveBranch = %q, want br-1", active)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine mutex still held after publishing to a subscriber")
	}
}

func TestSubscriberNotifiedOnViewChange(t *testing.T) {
	cmd := &fakeCommander{}
	fs := newFakeSync()
	fs.ActivateBranch("br-1")
	c := newTestController(cmd, fs)

	var mu sync.Mutex
	var got []Snapshot
	c.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	view := emptyView("br-1")
	view.Messages = []studio.Message{{ID: "m1"}}
	c.OnViewChanged(view)

	waitFor(t, time.Second, "subscriber notified", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[0].View.BranchID != "br-1" {
		t.Errorf("notified branch = %q", got[0].View.BranchID)
	}
}
