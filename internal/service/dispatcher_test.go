package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/idle"
	"yakkl-background/internal/router"
	"yakkl-background/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu          sync.Mutex
	requests    []domain.Request
	decisions   map[string]domain.ApprovalDecision
	decisionErr error
}

func (f *fakeRouter) Handle(ctx context.Context, caller router.Caller, req domain.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeRouter) HandleDecision(ctx context.Context, id string, decision domain.ApprovalDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decisionErr != nil {
		return f.decisionErr
	}
	if f.decisions == nil {
		f.decisions = make(map[string]domain.ApprovalDecision)
	}
	f.decisions[id] = decision
	return nil
}

type countingActivity struct {
	mu sync.Mutex
	n  int
}

func (c *countingActivity) RecordActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

type dispatchEnv struct {
	auth     *authEnv
	router   *fakeRouter
	activity *countingActivity
	platform *idle.ReportedPlatform
	d        *Dispatcher
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	env := &dispatchEnv{
		auth:     newAuthEnv(t),
		router:   &fakeRouter{},
		activity: &countingActivity{},
		platform: idle.NewReportedPlatform(),
	}
	env.d = NewDispatcher(env.router, env.auth.svc, env.activity, env.platform)
	return env
}

func callerFor(kind domain.PortKind) (router.Caller, *testutil.MockPort) {
	p := testutil.NewMockPort("https://app.uniswap.org")
	return router.Caller{ConnectionID: "conn-1", Kind: kind, Key: "tab-1", Port: p}, p
}

func TestDispatch_ProviderRequests(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		raw      string
		wantID   string
		wantMeth string
	}{
		{"string_id", `{"id":"7","method":"eth_chainId"}`, "7", "eth_chainId"},
		{"numeric_id", `{"id":42,"method":"eth_accounts","params":[]}`, "42", "eth_accounts"},
		{"missing_id_still_routed", `{"method":"eth_accounts"}`, "", "eth_accounts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDispatchEnv(t)
			caller, _ := callerFor(domain.PortDapp)

			env.d.Dispatch(ctx, caller, []byte(tt.raw))

			require.Len(t, env.router.requests, 1)
			assert.Equal(t, tt.wantID, env.router.requests[0].ID)
			assert.Equal(t, tt.wantMeth, env.router.requests[0].Method)
		})
	}
}

func TestDispatch_MalformedInput(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid_json_is_parse_error", func(t *testing.T) {
		env := newDispatchEnv(t)
		caller, p := callerFor(domain.PortDapp)

		env.d.Dispatch(ctx, caller, []byte(`{not json`))

		testutil.AssertProviderError(t, testutil.OnlyResponse(t, p), domain.CodeParseError)
		assert.Empty(t, env.router.requests)
	})

	t.Run("object_id_is_protocol_error", func(t *testing.T) {
		env := newDispatchEnv(t)
		caller, p := callerFor(domain.PortDapp)

		env.d.Dispatch(ctx, caller, []byte(`{"id":{"x":1},"method":"eth_chainId"}`))

		testutil.AssertProviderError(t, testutil.OnlyResponse(t, p), domain.CodeInvalidRequest)
	})
}

func TestDispatch_PingFromAnyPort(t *testing.T) {
	env := newDispatchEnv(t)
	caller, p := callerFor(domain.PortContentScript)

	env.d.Dispatch(context.Background(), caller, []byte(`{"type":"ping","id":"p1"}`))

	controls := p.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, domain.ControlPong, controls[0].Type)
	assert.Equal(t, "p1", controls[0].ID)
}

func TestDispatch_ControlFromDappRefused(t *testing.T) {
	env := newDispatchEnv(t)
	caller, p := callerFor(domain.PortDapp)

	env.d.Dispatch(context.Background(), caller, []byte(`{"type":"lock"}`))

	controls := p.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, domain.ControlError, controls[0].Type)
	assert.Empty(t, env.auth.rejecter.errors)
}

func TestDispatch_ApprovalResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards_decision", func(t *testing.T) {
		env := newDispatchEnv(t)
		caller, p := callerFor(domain.PortInternal)

		env.d.Dispatch(ctx, caller, []byte(`{"type":"approval_response","id":"a1","data":{"approved":true,"result":"0xsig"}}`))

		decision, ok := env.router.decisions["a1"]
		require.True(t, ok)
		assert.True(t, decision.Approved)
		assert.JSONEq(t, `"0xsig"`, string(decision.Result))
		assert.Empty(t, p.Controls())
	})

	t.Run("unknown_id_reports_error", func(t *testing.T) {
		env := newDispatchEnv(t)
		env.router.decisionErr = domain.ErrRequestNotFound
		caller, p := callerFor(domain.PortInternal)

		env.d.Dispatch(ctx, caller, []byte(`{"type":"approval_response","id":"gone","data":{"approved":false}}`))

		controls := p.Controls()
		require.Len(t, controls, 1)
		assert.Equal(t, domain.ControlError, controls[0].Type)
		assert.Contains(t, string(controls[0].Data), "no longer pending")
	})

	t.Run("bad_payload", func(t *testing.T) {
		env := newDispatchEnv(t)
		caller, p := callerFor(domain.PortInternal)

		env.d.Dispatch(ctx, caller, []byte(`{"type":"approval_response","id":"a1","data":"yes"}`))

		require.Len(t, p.Controls(), 1)
		assert.Empty(t, env.router.decisions)
	})
}

func TestDispatch_ActivityAndIdleState(t *testing.T) {
	env := newDispatchEnv(t)
	caller, _ := callerFor(domain.PortInternal)
	ctx := context.Background()

	env.d.Dispatch(ctx, caller, []byte(`{"type":"activity"}`))
	env.d.Dispatch(ctx, caller, []byte(`{"type":"idle_state","data":{"state":"idle"}}`))

	assert.Equal(t, 1, env.activity.n)
	state, err := env.platform.QueryState(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, idle.PlatformIdle, state)
}

func TestDispatch_LoginLogoutLock(t *testing.T) {
	env := newDispatchEnv(t)
	caller, p := callerFor(domain.PortInternal)
	ctx := context.Background()

	env.d.Dispatch(ctx, caller, []byte(`{"type":"session_login","id":"l1","data":{"subject":"user-1","username":"alice"}}`))

	controls := p.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, domain.ControlLogin, controls[0].Type)

	var reply struct {
		Token   string             `json:"token"`
		Session domain.SessionInfo `json:"session"`
	}
	require.NoError(t, json.Unmarshal(controls[0].Data, &reply))
	assert.True(t, env.auth.manager.Validate(ctx, reply.Token))
	assert.Equal(t, "alice", reply.Session.Username)

	env.d.Dispatch(ctx, caller, []byte(`{"type":"lock","id":"k1"}`))
	assert.False(t, env.auth.manager.Validate(ctx, reply.Token))
	require.Len(t, env.auth.rejecter.errors, 1)

	env.d.Dispatch(ctx, caller, []byte(`{"type":"session_logout","id":"o1"}`))
	controls = p.Controls()
	assert.Equal(t, domain.ControlLogout, controls[len(controls)-1].Type)
}

func TestDispatch_LoginRequiresSubject(t *testing.T) {
	env := newDispatchEnv(t)
	caller, p := callerFor(domain.PortInternal)

	env.d.Dispatch(context.Background(), caller, []byte(`{"type":"session_login","id":"l1","data":{}}`))

	controls := p.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, domain.ControlError, controls[0].Type)
}

func TestDispatch_UnknownControl(t *testing.T) {
	env := newDispatchEnv(t)
	caller, p := callerFor(domain.PortInternal)

	env.d.Dispatch(context.Background(), caller, []byte(`{"type":"teleport"}`))

	controls := p.Controls()
	require.Len(t, controls, 1)
	assert.Contains(t, string(controls[0].Data), "teleport")
}
