package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shorelink/fleetsync/internal/auth"
	"github.com/shorelink/fleetsync/internal/cms"
	"github.com/shorelink/fleetsync/internal/config"
	"github.com/shorelink/fleetsync/internal/engine"
	"github.com/shorelink/fleetsync/internal/hooks"
	"github.com/shorelink/fleetsync/internal/monitor"
	"github.com/shorelink/fleetsync/internal/store"
	"github.com/shorelink/fleetsync/internal/syncx"
)

type fakeEngine struct {
	applyErr map[string]error // by contentId
	applied  []string
	resolved []int64
	resErr   error
}

func (f *fakeEngine) Apply(_ context.Context, msg *syncx.Message) error {
	if err, ok := f.applyErr[msg.ContentID]; ok {
		return err
	}
	f.applied = append(f.applied, msg.ContentID)
	return nil
}

func (f *fakeEngine) ResolveConflict(_ context.Context, id int64, choice string, _ map[string]any, _ string) error {
	if f.resErr != nil {
		return f.resErr
	}
	if choice != store.ResolveKeepLocal && choice != store.ResolveKeepRemote && choice != store.ResolveMerge {
		return fmt.Errorf("invalid resolution choice: %q", choice)
	}
	f.resolved = append(f.resolved, id)
	return nil
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) Seen(_ context.Context, id string) (bool, error) { return f.seen[id], nil }
func (f *fakeDedup) Record(_ context.Context, id string) error {
	f.seen[id] = true
	return nil
}

type fakeQueue struct{ stats store.QueueStats }

func (f *fakeQueue) Stats(context.Context) (store.QueueStats, error) { return f.stats, nil }

type fakeConflicts struct {
	pending []store.Conflict
}

func (f *fakeConflicts) ListPending(_ context.Context, limit int) ([]store.Conflict, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}
func (f *fakeConflicts) CountPending(context.Context) (int64, error) {
	return int64(len(f.pending)), nil
}

type fakeDeadLetters struct {
	letters  map[int64]*store.Letter
	resolved []int64
}

func (f *fakeDeadLetters) List(_ context.Context, limit int, unresolvedOnly bool) ([]store.Letter, error) {
	var out []store.Letter
	for _, l := range f.letters {
		if unresolvedOnly && l.ResolvedAt != nil {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}
func (f *fakeDeadLetters) Get(_ context.Context, id int64) (*store.Letter, error) {
	return f.letters[id], nil
}
func (f *fakeDeadLetters) MarkResolved(_ context.Context, id int64) error {
	now := time.Now()
	f.letters[id].ResolvedAt = &now
	f.resolved = append(f.resolved, id)
	return nil
}

type fakePeers struct {
	sessions []store.Session
	activity []string
	syncs    []string
}

func (f *fakePeers) List(context.Context) ([]store.Session, error) { return f.sessions, nil }
func (f *fakePeers) RecordActivity(_ context.Context, peerID string, _ map[string]any) error {
	f.activity = append(f.activity, peerID)
	return nil
}
func (f *fakePeers) UpdateSyncStatus(_ context.Context, peerID, outcome string, _ int64) error {
	f.syncs = append(f.syncs, peerID+":"+outcome)
	return nil
}

type fakeChanges struct {
	docs []cms.Document
}

func (f *fakeChanges) ChangedSince(_ context.Context, since time.Time, limit int) ([]cms.Document, error) {
	var out []cms.Document
	for _, d := range f.docs {
		if d.UpdatedAt.After(since) || d.UpdatedAt.Equal(since) {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeVersions struct {
	versions map[string]int64
}

func (f *fakeVersions) Get(_ context.Context, ct, id string) (*store.Metadata, error) {
	if v, ok := f.versions[ct+"/"+id]; ok {
		return &store.Metadata{ContentType: ct, EntityID: id, SyncVersion: v}, nil
	}
	return nil, nil
}

type hookVersioner struct{ calls int }

func (h *hookVersioner) IncrementVersion(_ context.Context, _, _, _ string) (int64, error) {
	h.calls++
	return int64(h.calls), nil
}

type hookEnqueuer struct{ entries []store.Entry }

func (h *hookEnqueuer) Enqueue(_ context.Context, e store.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

type testEnv struct {
	srv       *Server
	eng       *fakeEngine
	dedup     *fakeDedup
	dl        *fakeDeadLetters
	peers     *fakePeers
	hookQueue *hookEnqueuer
	handler   http.Handler
}

func newTestEnv(mode config.Mode) *testEnv {
	eng := &fakeEngine{applyErr: map[string]error{}}
	dedup := &fakeDedup{seen: map[string]bool{}}
	dl := &fakeDeadLetters{letters: map[int64]*store.Letter{}}
	peers := &fakePeers{}

	srv := &Server{
		Cfg:         &config.Config{Mode: mode, ShipID: "ship-1"},
		Engine:      eng,
		Changes:     &fakeChanges{},
		Versions:    &fakeVersions{versions: map[string]int64{}},
		Dedup:       dedup,
		Queue:       &fakeQueue{stats: store.QueueStats{Pending: 2}},
		Conflicts:   &fakeConflicts{},
		DeadLetters: dl,
	}
	if mode == config.ModeMaster {
		srv.Peers = peers
	}

	hookQueue := &hookEnqueuer{}
	srv.Hooks = &hooks.Interceptor{
		Cfg:      srv.Cfg,
		Versions: &hookVersioner{},
		Queue:    hookQueue,
	}

	return &testEnv{
		srv:       srv,
		eng:       eng,
		dedup:     dedup,
		dl:        dl,
		peers:     peers,
		hookQueue: hookQueue,
		handler:   srv.Routes(auth.JWTCfg{HS256Secret: "test", DevMode: true}),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Debug-Sub", "ship-1")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return v
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(config.ModeMaster)

	req := httptest.NewRequest(http.MethodGet, "/sync/status", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	// Health stays open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	env.peers.sessions = []store.Session{{PeerID: "ship-2", IsOnline: true}}
	env.srv.Conflicts = &fakeConflicts{pending: []store.Conflict{{ID: 1}}}
	st := monitor.State{IsOnline: true}
	env.srv.Monitor = stubMonitor{st}
	env.handler = env.srv.Routes(auth.JWTCfg{DevMode: true})

	rec := env.do(t, http.MethodGet, "/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[statusResp](t, rec)
	if resp.Mode != "master" || resp.PeerID != "master" {
		t.Errorf("identity = %s/%s", resp.Mode, resp.PeerID)
	}
	if resp.Queue.Pending != 2 || resp.PendingConflicts != 1 {
		t.Errorf("counts = %+v / %d", resp.Queue, resp.PendingConflicts)
	}
	if resp.Bus == nil || !resp.Bus.IsOnline {
		t.Errorf("bus = %+v", resp.Bus)
	}
	if len(resp.Peers) != 1 || resp.Peers[0].PeerID != "ship-2" {
		t.Errorf("peers = %+v", resp.Peers)
	}
}

type stubMonitor struct{ st monitor.State }

func (s stubMonitor) State() monitor.State { return s.st }

func pushMsg(id, contentID string) *syncx.Message {
	return &syncx.Message{
		MessageID:   id,
		ShipID:      "ship-1",
		Timestamp:   syncx.RFC3339(syncx.NowMs()),
		Operation:   syncx.OpUpdate,
		ContentType: "api::article.article",
		ContentID:   contentID,
		Version:     1,
		Data:        map[string]any{"title": "x"},
	}
}

func TestPushMixedOutcomes(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	env.eng.applyErr["conflicted"] = engine.ErrConflict
	env.eng.applyErr["bogus"] = fmt.Errorf("%w: api::bogus", engine.ErrUnknownContentType)
	env.dedup.seen["dup"] = true

	invalid := pushMsg("m4", "doc4")
	invalid.Operation = "upsert"

	rec := env.do(t, http.MethodPost, "/sync/push", pushReq{Messages: []*syncx.Message{
		pushMsg("m1", "doc1"),
		pushMsg("m2", "conflicted"),
		pushMsg("dup", "doc3"),
		invalid,
		pushMsg("m5", "bogus"),
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[pushResp](t, rec)
	if resp.Processed != 1 || resp.Conflicts != 1 {
		t.Errorf("tally = %+v", resp)
	}
	if len(resp.UpdatedEntities) != 1 || resp.UpdatedEntities[0] != "doc1" {
		t.Errorf("UpdatedEntities = %v, want [doc1]", resp.UpdatedEntities)
	}

	want := map[string]string{
		"m1": "applied", "m2": "conflict", "dup": "duplicate", "m4": "rejected", "m5": "rejected",
	}
	for _, ack := range resp.Acks {
		if want[ack.MessageID] != ack.Status {
			t.Errorf("ack %s = %s, want %s", ack.MessageID, ack.Status, want[ack.MessageID])
		}
	}

	// Applied and conflicted messages are recorded; rejected are not
	if !env.dedup.seen["m1"] || !env.dedup.seen["m2"] {
		t.Error("handled messages not recorded")
	}
	if env.dedup.seen["m4"] {
		t.Error("rejected message recorded")
	}

	if len(env.peers.activity) != 1 || env.peers.activity[0] != "ship-1" {
		t.Errorf("peer activity = %v", env.peers.activity)
	}
	if len(env.peers.syncs) != 1 || env.peers.syncs[0] != "ship-1:partial" {
		t.Errorf("sync status = %v", env.peers.syncs)
	}
}

func TestPushIdempotent(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	body := pushReq{Messages: []*syncx.Message{pushMsg("m1", "doc1")}}

	env.do(t, http.MethodPost, "/sync/push", body)
	rec := env.do(t, http.MethodPost, "/sync/push", body)

	resp := decodeBody[pushResp](t, rec)
	if resp.Processed != 0 || resp.Acks[0].Status != "duplicate" {
		t.Errorf("second push = %+v", resp)
	}
	if len(env.eng.applied) != 1 {
		t.Errorf("applied %d times, want 1", len(env.eng.applied))
	}
}

func TestPushNotRoutedOnReplica(t *testing.T) {
	env := newTestEnv(config.ModeReplica)
	rec := env.do(t, http.MethodPost, "/sync/push", pushReq{Messages: []*syncx.Message{pushMsg("m1", "d")}})
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404/405", rec.Code)
	}
}

func TestPullPagination(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	changes := &fakeChanges{}
	versions := &fakeVersions{versions: map[string]int64{}}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("doc%d", i)
		changes.docs = append(changes.docs, cms.Document{
			ContentType: "api::article.article",
			EntityID:    id,
			Data:        map[string]any{"n": float64(i)},
			UpdatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		versions.versions["api::article.article/"+id] = int64(i + 1)
	}
	env.srv.Changes = changes
	env.srv.Versions = versions
	env.handler = env.srv.Routes(auth.JWTCfg{DevMode: true})

	rec := env.do(t, http.MethodGet, "/sync/pull?limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	page1 := decodeBody[pullResp](t, rec)
	if len(page1.Messages) != 3 || page1.NextCursor == nil {
		t.Fatalf("page1 = %d messages, cursor %v", len(page1.Messages), page1.NextCursor)
	}
	if page1.Messages[0].ContentID != "doc0" || page1.Messages[0].Version != 1 {
		t.Errorf("first message = %+v", page1.Messages[0])
	}
	if page1.Messages[0].ShipID != syncx.MasterPeerID {
		t.Errorf("pull messages must carry the master identity, got %s", page1.Messages[0].ShipID)
	}

	rec = env.do(t, http.MethodGet, "/sync/pull?limit=3&cursor="+*page1.NextCursor, nil)
	page2 := decodeBody[pullResp](t, rec)
	if len(page2.Messages) != 2 {
		t.Fatalf("page2 = %d messages", len(page2.Messages))
	}
	if page2.Messages[0].ContentID != "doc3" {
		t.Errorf("page2 starts at %s, want doc3", page2.Messages[0].ContentID)
	}
	if page2.NextCursor != nil {
		t.Errorf("final page should have no cursor, got %v", *page2.NextCursor)
	}
}

func TestResolveConflictEndpoint(t *testing.T) {
	env := newTestEnv(config.ModeMaster)

	rec := env.do(t, http.MethodPost, "/sync/conflicts/7/resolve", resolveReq{Choice: store.ResolveKeepRemote})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.eng.resolved) != 1 || env.eng.resolved[0] != 7 {
		t.Errorf("resolved = %v", env.eng.resolved)
	}

	rec = env.do(t, http.MethodPost, "/sync/conflicts/7/resolve", resolveReq{Choice: "pick_both"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid choice status = %d, want 400", rec.Code)
	}

	env.eng.resErr = errors.New("conflict 9 not found")
	rec = env.do(t, http.MethodPost, "/sync/conflicts/9/resolve", resolveReq{Choice: store.ResolveKeepLocal})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing conflict status = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/sync/conflicts/abc/resolve", resolveReq{Choice: store.ResolveKeepLocal})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestResolveDeadLetter(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	payload, _ := json.Marshal(pushMsg("m1", "doc1"))
	env.dl.letters[1] = &store.Letter{ID: 1, MessageID: "m1", Payload: payload}
	env.dl.letters[2] = &store.Letter{ID: 2, MessageID: "m2", Payload: []byte("garbage")}

	// Requeue a valid payload: applied and stamped
	rec := env.do(t, http.MethodPost, "/sync/dead-letters/1/resolve", deadLetterResolveReq{Action: "requeue"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.eng.applied) != 1 || env.eng.applied[0] != "doc1" {
		t.Errorf("applied = %v", env.eng.applied)
	}
	if len(env.dl.resolved) != 1 {
		t.Errorf("resolved = %v", env.dl.resolved)
	}

	// Already resolved
	rec = env.do(t, http.MethodPost, "/sync/dead-letters/1/resolve", deadLetterResolveReq{Action: "discard"})
	if rec.Code != http.StatusConflict {
		t.Errorf("re-resolve status = %d, want 409", rec.Code)
	}

	// Malformed payload cannot be requeued but can be discarded
	rec = env.do(t, http.MethodPost, "/sync/dead-letters/2/resolve", deadLetterResolveReq{Action: "requeue"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("garbage requeue status = %d, want 422", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/sync/dead-letters/2/resolve", deadLetterResolveReq{Action: "discard"})
	if rec.Code != http.StatusOK {
		t.Errorf("discard status = %d: %s", rec.Code, rec.Body.String())
	}

	// Missing letter
	rec = env.do(t, http.MethodPost, "/sync/dead-letters/99/resolve", deadLetterResolveReq{Action: "discard"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing letter status = %d, want 404", rec.Code)
	}
}

func TestLifecycleWebhook(t *testing.T) {
	env := newTestEnv(config.ModeReplica)

	rec := env.do(t, http.MethodPost, "/hooks/lifecycle", hooks.Event{
		Operation:   syncx.OpUpdate,
		ContentType: "api::article.article",
		Data:        map[string]any{"documentId": "doc1", "title": "x"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.hookQueue.entries) != 1 || env.hookQueue.entries[0].ContentID != "doc1" {
		t.Errorf("entries = %+v", env.hookQueue.entries)
	}

	rec = env.do(t, http.MethodPost, "/hooks/lifecycle", map[string]any{"operation": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty event status = %d, want 400", rec.Code)
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(config.ModeMaster)
	env.srv.Conflicts = &fakeConflicts{pending: []store.Conflict{
		{ID: 1, ContentType: "api::article.article", EntityID: "doc1"},
	}}
	env.dl.letters[1] = &store.Letter{ID: 1, MessageID: "m1"}
	env.handler = env.srv.Routes(auth.JWTCfg{DevMode: true})

	rec := env.do(t, http.MethodGet, "/sync/conflicts", nil)
	conflicts := decodeBody[conflictListResp](t, rec)
	if len(conflicts.Conflicts) != 1 {
		t.Errorf("conflicts = %+v", conflicts)
	}

	rec = env.do(t, http.MethodGet, "/sync/dead-letters?unresolved=true", nil)
	letters := decodeBody[deadLetterListResp](t, rec)
	if len(letters.Letters) != 1 {
		t.Errorf("letters = %+v", letters)
	}
}
