package message

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"snakeserver/internal/persist"
	"snakeserver/internal/session"
	"snakeserver/internal/stats"
	"snakeserver/internal/types"
)

type mirrorCall struct {
	Op   string
	Game session.GameSession
	User persist.UserRecord
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
}

func (m *fakeMirror) InsertGame(g session.GameSession) { m.record(mirrorCall{Op: "insert_game", Game: g}) }
func (m *fakeMirror) UpsertGame(g session.GameSession) { m.record(mirrorCall{Op: "upsert_game", Game: g}) }
func (m *fakeMirror) InsertUser(u persist.UserRecord)  { m.record(mirrorCall{Op: "insert_user", User: u}) }

func (m *fakeMirror) record(c mirrorCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *fakeMirror) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Op
	}
	return out
}

type frame struct {
	Method  string               `json:"method"`
	Game    *session.GameSession `json:"game"`
	Error   string               `json:"error"`
	Message string               `json:"message"`
}

func newTestHandler(maxUsers int) (*Handler, *fakeMirror) {
	m := &fakeMirror{}
	h := NewHandler(session.NewRegistry(maxUsers), session.NewStore(maxUsers), m, stats.New())
	return h, m
}

func newClient() *types.Client {
	return types.NewClient(nil, 16, 16)
}

func send(t *testing.T, h *Handler, c *types.Client, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h.Dispatch(c, data)
}

func connect(t *testing.T, h *Handler, id string) *types.Client {
	t.Helper()
	c := newClient()
	send(t, h, c, map[string]any{"method": "connect", "clientId": id})
	if c.ID() != id {
		t.Fatalf("connect %q: client id = %q", id, c.ID())
	}
	expectNone(t, c)
	return c
}

func recv(t *testing.T, c *types.Client) frame {
	t.Helper()
	select {
	case data := <-c.Send:
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return f
	default:
		t.Fatal("no frame queued")
		return frame{}
	}
}

func expectNone(t *testing.T, c *types.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame %s", data)
	default:
	}
}

func expectError(t *testing.T, c *types.Client, code string) {
	t.Helper()
	f := recv(t, c)
	if f.Method != "error" || f.Error != code {
		t.Fatalf("got %s/%s, want error %s", f.Method, f.Error, code)
	}
}

func createSession(t *testing.T, h *Handler, c *types.Client) string {
	t.Helper()
	send(t, h, c, map[string]any{"method": "create", "clientId": c.ID()})
	f := recv(t, c)
	if f.Method != "create" || f.Game == nil {
		t.Fatalf("create reply = %+v", f)
	}
	return f.Game.SessionID
}

func TestDispatchMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{"method":`, "invalid_json"},
		{"no method", `{"clientId":"a1"}`, "invalid_json"},
		{"unknown method", `{"method":"teleport"}`, "unknown_method"},
		{"bad field type", `{"method":"connect","clientId":7}`, "invalid_payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(4)
			c := newClient()
			h.Dispatch(c, []byte(tt.raw))
			expectError(t, c, tt.code)
		})
	}
}

func TestConnect(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		h, _ := newTestHandler(4)
		c := newClient()
		send(t, h, c, map[string]any{"method": "connect"})
		expectError(t, c, "missing_fields")
		if h.registry.Len() != 0 {
			t.Errorf("registry Len() = %d, want 0", h.registry.Len())
		}
	})

	t.Run("same id again is a no-op", func(t *testing.T) {
		h, _ := newTestHandler(4)
		c := connect(t, h, "a1")
		send(t, h, c, map[string]any{"method": "connect", "clientId": "a1"})
		expectNone(t, c)
		if c.Closed() {
			t.Error("client closed on repeated connect")
		}
	})

	t.Run("second id on one connection", func(t *testing.T) {
		h, _ := newTestHandler(4)
		c := connect(t, h, "a1")
		send(t, h, c, map[string]any{"method": "connect", "clientId": "z9"})
		expectError(t, c, "already_connected")
		if _, ok := h.registry.Lookup("z9"); ok {
			t.Error("z9 registered")
		}
	})

	t.Run("duplicate id closes the new connection", func(t *testing.T) {
		h, _ := newTestHandler(4)
		old := connect(t, h, "a1")
		dup := newClient()
		send(t, h, dup, map[string]any{"method": "connect", "clientId": "a1"})

		if !dup.Closed() {
			t.Error("new connection left open")
		}
		if old.Closed() {
			t.Error("old connection closed")
		}
		if got, _ := h.registry.Lookup("a1"); got != old {
			t.Error("registration moved to the new connection")
		}
		if dup.ID() != "" {
			t.Errorf("rejected client got id %q", dup.ID())
		}
	})

	t.Run("registry full", func(t *testing.T) {
		h, _ := newTestHandler(2)
		connect(t, h, "a1")
		connect(t, h, "b1")
		c := newClient()
		send(t, h, c, map[string]any{"method": "connect", "clientId": "c1"})
		if !c.Closed() {
			t.Error("connection over capacity left open")
		}
		if h.registry.Len() != 2 {
			t.Errorf("registry Len() = %d, want 2", h.registry.Len())
		}
	})
}

func TestCreateRequiresConnect(t *testing.T) {
	h, m := newTestHandler(4)

	c := newClient()
	send(t, h, c, map[string]any{"method": "create", "clientId": "a1"})
	expectError(t, c, "not_connected")

	a := connect(t, h, "a1")
	send(t, h, a, map[string]any{"method": "create", "clientId": "b1"})
	expectError(t, a, "not_connected")

	if h.store.Len() != 0 {
		t.Errorf("store Len() = %d, want 0", h.store.Len())
	}
	if len(m.ops()) != 0 {
		t.Errorf("mirror calls = %v, want none", m.ops())
	}
}

func TestCreateJoinScenario(t *testing.T) {
	h, m := newTestHandler(4)
	a := connect(t, h, "a1")
	b := connect(t, h, "b1")

	send(t, h, a, map[string]any{"method": "create", "clientId": "a1"})
	f := recv(t, a)
	if f.Method != "create" {
		t.Fatalf("method = %q, want create", f.Method)
	}
	sid := f.Game.SessionID
	if diff := cmp.Diff(&session.GameSession{SessionID: sid, Clients: []session.Participant{}}, f.Game); diff != "" {
		t.Errorf("create game mismatch (-want +got):\n%s", diff)
	}
	expectNone(t, b)

	send(t, h, b, map[string]any{"method": "join", "clientId": "b1", "sessionId": sid})
	f = recv(t, b)
	if f.Method != "join" {
		t.Fatalf("method = %q, want join", f.Method)
	}
	if diff := cmp.Diff([]string{"b1"}, f.Game.ClientIDs()); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
	p := f.Game.Clients[0]
	if int(p.X)%session.CellSize != 0 || p.X < 0 || p.X >= session.GridCols*session.CellSize {
		t.Errorf("x = %v is not a grid column", p.X)
	}
	if int(p.Y)%session.CellSize != 0 || p.Y < 0 || p.Y >= session.GridRows*session.CellSize {
		t.Errorf("y = %v is not a grid row", p.Y)
	}
	if p.XDirection != nil || p.YDirection != nil {
		t.Error("heading set before first movement")
	}
	// a1 only created the session, it is not a participant.
	expectNone(t, a)

	send(t, h, a, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
	for _, c := range []*types.Client{a, b} {
		f := recv(t, c)
		if diff := cmp.Diff([]string{"b1", "a1"}, f.Game.ClientIDs()); diff != "" {
			t.Errorf("%s participants mismatch (-want +got):\n%s", c.ID(), diff)
		}
	}

	if diff := cmp.Diff([]string{"insert_game", "upsert_game", "upsert_game"}, m.ops()); diff != "" {
		t.Errorf("mirror ops mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinBroadcastReachesEveryParticipant(t *testing.T) {
	const maxUsers = 4
	h, _ := newTestHandler(maxUsers)

	clients := make([]*types.Client, maxUsers)
	for i := range clients {
		clients[i] = connect(t, h, string(rune('a'+i))+"1")
	}
	sid := createSession(t, h, clients[0])

	for n := 1; n <= maxUsers; n++ {
		joiner := clients[n-1]
		send(t, h, joiner, map[string]any{"method": "join", "clientId": joiner.ID(), "sessionId": sid})

		for i, c := range clients {
			if i >= n {
				expectNone(t, c)
				continue
			}
			f := recv(t, c)
			if f.Method != "join" || len(f.Game.Clients) != n {
				t.Fatalf("join #%d: %s got %s with %d clients", n, c.ID(), f.Method, len(f.Game.Clients))
			}
		}
	}

	g, _ := h.store.Snapshot(sid)
	if len(g.Clients) != maxUsers {
		t.Errorf("participants = %d, want %d", len(g.Clients), maxUsers)
	}
}

func TestJoinErrors(t *testing.T) {
	h := NewHandler(session.NewRegistry(4), session.NewStore(2), &fakeMirror{}, stats.New())
	a := connect(t, h, "a1")
	b := connect(t, h, "b1")
	c := connect(t, h, "c1")
	sid := createSession(t, h, a)

	tests := []struct {
		name   string
		client *types.Client
		msg    map[string]any
		code   string
	}{
		{"missing session", a, map[string]any{"method": "join", "clientId": "a1"}, "missing_fields"},
		{"unknown session", a, map[string]any{"method": "join", "clientId": "a1", "sessionId": "nope"}, "session_not_found"},
		{"join by gameId", a, map[string]any{"method": "join", "clientId": "a1", "gameId": sid}, ""},
		{"already joined", a, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid}, "already_joined"},
		{"second seat", b, map[string]any{"method": "join", "clientId": "b1", "sessionId": sid}, ""},
		{"full", c, map[string]any{"method": "join", "clientId": "c1", "sessionId": sid}, "session_full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, h, tt.client, tt.msg)
			if tt.code == "" {
				if f := recv(t, tt.client); f.Method != "join" {
					t.Fatalf("method = %q, want join", f.Method)
				}
				return
			}
			expectError(t, tt.client, tt.code)
		})
	}
	// Drain the broadcast a got when b joined.
	if f := recv(t, a); f.Method != "join" {
		t.Errorf("a1 method = %q, want join", f.Method)
	}
	expectNone(t, c)
}

func TestPlay(t *testing.T) {
	h, m := newTestHandler(4)
	a := connect(t, h, "a1")
	b := connect(t, h, "b1")
	sid := createSession(t, h, a)
	send(t, h, a, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
	recv(t, a)
	send(t, h, b, map[string]any{"method": "join", "clientId": "b1", "sessionId": sid})
	recv(t, a)
	recv(t, b)

	before, _ := h.store.Snapshot(sid)

	send(t, h, a, map[string]any{
		"method": "play", "clientId": "a1", "sessionId": sid,
		"x": 50, "y": 75, "xdirection": 1, "ydirection": 0,
	})
	for _, c := range []*types.Client{a, b} {
		if f := recv(t, c); f.Method != "update" {
			t.Fatalf("%s method = %q, want update", c.ID(), f.Method)
		}
	}

	after, _ := h.store.Snapshot(sid)
	got := after.Clients[0]
	if got.ClientID != "a1" || got.X != 50 || got.Y != 75 {
		t.Errorf("a1 = %+v, want position (50,75)", got)
	}
	if got.XDirection == nil || *got.XDirection != 1 || got.YDirection == nil || *got.YDirection != 0 {
		t.Errorf("a1 heading = %v,%v, want 1,0", got.XDirection, got.YDirection)
	}
	if diff := cmp.Diff(before.Clients[1], after.Clients[1]); diff != "" {
		t.Errorf("b1 changed by a1's update (-before +after):\n%s", diff)
	}

	ops := m.ops()
	if ops[len(ops)-1] != "upsert_game" {
		t.Errorf("last mirror op = %q, want upsert_game", ops[len(ops)-1])
	}
}

func TestPlayErrors(t *testing.T) {
	h, _ := newTestHandler(4)
	a := connect(t, h, "a1")
	b := connect(t, h, "b1")
	sid := createSession(t, h, a)
	send(t, h, b, map[string]any{"method": "join", "clientId": "b1", "sessionId": sid})
	recv(t, b)

	send(t, h, a, map[string]any{"method": "play", "clientId": "a1", "sessionId": "nope", "x": 1, "y": 1})
	expectError(t, a, "session_not_found")

	send(t, h, a, map[string]any{"method": "play", "clientId": "a1", "sessionId": sid, "x": 1, "y": 1})
	expectError(t, a, "participant_not_found")
	expectNone(t, b)

	send(t, h, a, map[string]any{"method": "play", "clientId": "a1", "x": 1, "y": 1})
	expectError(t, a, "missing_fields")
}

func TestRegister(t *testing.T) {
	h, m := newTestHandler(4)
	c := newClient()

	send(t, h, c, map[string]any{"method": "register", "name": "ann"})
	expectError(t, c, "missing_fields")

	msg := map[string]any{"method": "register", "name": "ann", "password": "pw", "userId": "u1", "score": 12}
	send(t, h, c, msg)
	send(t, h, c, msg)
	send(t, h, c, map[string]any{"method": "register", "userId": "u2"})
	expectNone(t, c)

	want := []persist.UserRecord{
		{Name: "ann", Password: "pw", UserID: "u1", Score: 12},
		{Name: "ann", Password: "pw", UserID: "u1", Score: 12},
		{UserID: "u2"},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	got := make([]persist.UserRecord, len(m.calls))
	for i, call := range m.calls {
		got[i] = call.User
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}
}

func TestDisconnect(t *testing.T) {
	h, m := newTestHandler(4)
	a := connect(t, h, "a1")
	b := connect(t, h, "b1")
	sid := createSession(t, h, a)
	for _, c := range []*types.Client{a, b} {
		send(t, h, c, map[string]any{"method": "join", "clientId": c.ID(), "sessionId": sid})
	}
	recv(t, a)
	recv(t, a)
	recv(t, b)

	b.Close(1000, "")
	h.Disconnect(b)

	f := recv(t, a)
	if f.Method != "update" {
		t.Fatalf("method = %q, want update", f.Method)
	}
	if diff := cmp.Diff([]string{"a1"}, f.Game.ClientIDs()); diff != "" {
		t.Errorf("remaining mismatch (-want +got):\n%s", diff)
	}
	if _, ok := h.registry.Lookup("b1"); ok {
		t.Error("b1 still registered")
	}

	n := len(m.ops())
	h.Disconnect(b)
	h.Disconnect(newClient())
	if len(m.ops()) != n {
		t.Error("repeated disconnect touched the mirror")
	}
	expectNone(t, a)
}

func TestReconnectDuringDisconnectKeepsAcknowledgedJoin(t *testing.T) {
	for i := 0; i < 500; i++ {
		h, _ := newTestHandler(4)
		host := connect(t, h, "host")
		sid := createSession(t, h, host)

		old := connect(t, h, "a1")
		send(t, h, old, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
		old.Close(1000, "")

		done := make(chan struct{})
		go func() {
			defer close(done)
			h.Disconnect(old)
		}()

		fresh := newClient()
		send(t, h, fresh, map[string]any{"method": "connect", "clientId": "a1"})
		if !fresh.Closed() {
			send(t, h, fresh, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
		}
		<-done

		joined := false
		for len(fresh.Send) > 0 {
			var f frame
			if err := json.Unmarshal(<-fresh.Send, &f); err != nil {
				t.Fatal(err)
			}
			if f.Method == "join" {
				joined = true
			}
		}
		if !joined {
			continue
		}
		g, _ := h.store.Snapshot(sid)
		if diff := cmp.Diff([]string{"a1"}, g.ClientIDs()); diff != "" {
			t.Fatalf("iteration %d: acknowledged join lost (-want +got):\n%s", i, diff)
		}
		if got, _ := h.registry.Lookup("a1"); got != fresh {
			t.Fatalf("iteration %d: a1 not owned by the new connection", i)
		}
	}
}

func TestDisconnectPurgesBeforeReleasingID(t *testing.T) {
	h, _ := newTestHandler(4)
	old := connect(t, h, "a1")
	sid := createSession(t, h, old)
	send(t, h, old, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
	recv(t, old)

	h.Disconnect(old)

	g, _ := h.store.Snapshot(sid)
	if len(g.Clients) != 0 {
		t.Errorf("participants after disconnect = %v, want none", g.ClientIDs())
	}
	fresh := connect(t, h, "a1")
	send(t, h, fresh, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
	if f := recv(t, fresh); f.Method != "join" {
		t.Fatalf("rejoin method = %q, want join", f.Method)
	}
}

func TestDisconnectOfRejectedDuplicateKeepsOriginal(t *testing.T) {
	h, _ := newTestHandler(4)
	a := connect(t, h, "a1")
	sid := createSession(t, h, a)
	send(t, h, a, map[string]any{"method": "join", "clientId": "a1", "sessionId": sid})
	recv(t, a)

	dup := newClient()
	send(t, h, dup, map[string]any{"method": "connect", "clientId": "a1"})
	h.Disconnect(dup)

	g, _ := h.store.Snapshot(sid)
	if diff := cmp.Diff([]string{"a1"}, g.ClientIDs()); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
	if got, _ := h.registry.Lookup("a1"); got != a {
		t.Error("original registration lost")
	}
}

func TestBroadcastSkipsGoneAndSlowRecipients(t *testing.T) {
	h, _ := newTestHandler(4)
	a := connect(t, h, "a1")

	slow := types.NewClient(nil, 1, 1)
	send(t, h, slow, map[string]any{"method": "connect", "clientId": "s1"})
	gone := connect(t, h, "g1")

	sid := createSession(t, h, a)
	for _, c := range []*types.Client{a, gone} {
		send(t, h, c, map[string]any{"method": "join", "clientId": c.ID(), "sessionId": sid})
	}
	if _, err := h.store.JoinSession(sid, "s1"); err != nil {
		t.Fatal(err)
	}
	h.registry.Unregister("g1")
	for len(a.Send) > 0 {
		<-a.Send
	}
	if !slow.Enqueue([]byte("{}")) {
		t.Fatal("prefill slow client")
	}

	send(t, h, a, map[string]any{"method": "play", "clientId": "a1", "sessionId": sid, "x": 25, "y": 25})

	if f := recv(t, a); f.Method != "update" {
		t.Errorf("a1 method = %q, want update", f.Method)
	}
	if !slow.Closed() {
		t.Error("slow consumer not disconnected")
	}
	if got := h.stats.FramesDropped.Load(); got != 2 {
		t.Errorf("FramesDropped = %d, want 2", got)
	}
}
