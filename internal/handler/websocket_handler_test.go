package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"yakkl-background/internal/clock"
	"yakkl-background/internal/domain"
	"yakkl-background/internal/port"
	"yakkl-background/internal/router"
	"yakkl-background/internal/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type dispatched struct {
	caller router.Caller
	raw    string
}

type fakeDispatcher struct {
	frames chan dispatched
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, caller router.Caller, raw []byte) {
	f.frames <- dispatched{caller: caller, raw: string(raw)}
}

type fakeApprovals struct {
	mu       sync.Mutex
	pending  []domain.ApprovalRequest
	rejected chan string
}

func (f *fakeApprovals) Pending() []domain.ApprovalRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ApprovalRequest(nil), f.pending...)
}

func (f *fakeApprovals) RejectPort(ctx context.Context, connectionID string) int {
	f.rejected <- connectionID
	return 1
}

type portEnv struct {
	registry   *port.Registry
	dispatcher *fakeDispatcher
	approvals  *fakeApprovals
	server     *httptest.Server
}

func newPortEnv(t *testing.T) *portEnv {
	t.Helper()
	env := &portEnv{
		registry:   port.NewRegistry(clock.Real()),
		dispatcher: &fakeDispatcher{frames: make(chan dispatched, 8)},
		approvals:  &fakeApprovals{rejected: make(chan string, 8)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := NewPortHandler(ctx, env.registry, env.dispatcher, env.approvals, []string{"chrome-extension://*"})

	r := chi.NewRouter()
	r.Get("/ws/{kind}", h.HandleConnection)
	env.server = httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		env.registry.Shutdown()
		env.server.Close()
	})
	return env
}

func (e *portEnv) dial(t *testing.T, path, origin string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPortHandler_UnknownKind(t *testing.T) {
	h := NewPortHandler(context.Background(), port.NewRegistry(clock.Real()), &fakeDispatcher{}, &fakeApprovals{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/sidepanel", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("kind", "sidepanel")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	h.HandleConnection(w, req)

	testutil.AssertStatusCode(t, w, http.StatusBadRequest)
	testutil.AssertContains(t, w.Body.String(), "Unknown port kind")
}

func TestPortHandler_PrivilegedKindRequiresAllowedOrigin(t *testing.T) {
	env := newPortEnv(t)

	for _, kind := range []string{"internal", "background"} {
		t.Run(kind, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/" + kind
			header := http.Header{"Origin": []string{"https://evil.example"}}

			_, resp, err := websocket.DefaultDialer.Dial(url, header)

			testutil.AssertError(t, err)
			testutil.AssertNotNil(t, resp)
			testutil.AssertEqual(t, resp.StatusCode, http.StatusForbidden)
		})
	}

	testutil.AssertEqual(t, env.registry.Count(domain.PortInternal), 0)
}

func TestPortHandler_DappRegistersUnderTabID(t *testing.T) {
	env := newPortEnv(t)

	env.dial(t, "/ws/dapp?tab_id=42&url=https%3A%2F%2Fapp.uniswap.org&title=Uniswap", "https://app.uniswap.org")

	waitFor(t, func() bool { return env.registry.Count(domain.PortDapp) == 1 })

	p, ok := env.registry.Get(domain.PortDapp, "42")
	testutil.AssertTrue(t, ok, "dapp port should be registered under its tab id")
	testutil.AssertEqual(t, p.Info().URL, "https://app.uniswap.org")
	testutil.AssertEqual(t, p.Info().Title, "Uniswap")
}

func TestPortHandler_FramesReachDispatcher(t *testing.T) {
	env := newPortEnv(t)
	conn := env.dial(t, "/ws/dapp?tab_id=7", "https://app.uniswap.org")

	frame := `{"id":"1","method":"eth_chainId"}`
	testutil.AssertNoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	select {
	case got := <-env.dispatcher.frames:
		testutil.AssertEqual(t, got.raw, frame)
		testutil.AssertEqual(t, got.caller.Kind, domain.PortDapp)
		testutil.AssertEqual(t, got.caller.Key, "7")
		testutil.AssertTrue(t, got.caller.ConnectionID != "", "caller should carry the connection id")
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not dispatched")
	}
}

func TestPortHandler_InternalPortReplaysPending(t *testing.T) {
	env := newPortEnv(t)
	env.approvals.pending = []domain.ApprovalRequest{
		testutil.NewTestApprovalRequest("eth_sendTransaction", "app.uniswap.org"),
	}

	conn := env.dial(t, "/ws/internal?key=popup", "chrome-extension://wallet")

	testutil.AssertNoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event struct {
		Event string                 `json:"event"`
		Data  domain.ApprovalRequest `json:"data"`
	}
	testutil.AssertNoError(t, conn.ReadJSON(&event))

	testutil.AssertEqual(t, event.Event, domain.EventApprovalRequested)
	testutil.AssertEqual(t, event.Data.ID, env.approvals.pending[0].ID)
}

func TestPortHandler_CloseRejectsPortRequests(t *testing.T) {
	env := newPortEnv(t)
	conn := env.dial(t, "/ws/dapp?tab_id=9", "https://app.uniswap.org")

	waitFor(t, func() bool { return env.registry.Count(domain.PortDapp) == 1 })
	conns := env.registry.List(domain.PortDapp)
	testutil.AssertLen(t, conns, 1)

	conn.Close()

	select {
	case id := <-env.approvals.rejected:
		testutil.AssertEqual(t, id, conns[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("closed port requests were not rejected")
	}
	waitFor(t, func() bool { return env.registry.Count(domain.PortDapp) == 0 })
}

func TestPortHandler_ReplacedHandleKeepsRequests(t *testing.T) {
	env := newPortEnv(t)
	first := env.dial(t, "/ws/dapp?tab_id=5", "https://app.uniswap.org")
	waitFor(t, func() bool { return env.registry.Count(domain.PortDapp) == 1 })
	id := env.registry.List(domain.PortDapp)[0].ID

	env.dial(t, "/ws/dapp?tab_id=5", "https://app.uniswap.org")

	// The old socket is closed by the server once the new handle takes over
	testutil.AssertNoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	testutil.AssertError(t, err)

	select {
	case rejected := <-env.approvals.rejected:
		t.Fatalf("replacement should not reject requests of %s", rejected)
	case <-time.After(200 * time.Millisecond):
	}

	conn, ok := env.registry.Lookup(id)
	testutil.AssertTrue(t, ok, "connection id should survive replacement")
	testutil.AssertEqual(t, conn.Key, "5")
}
