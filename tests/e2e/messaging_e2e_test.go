//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"yakkl-background/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivity_AuditedToPostgres(t *testing.T) {
	dapp := DialDapp(t, "https://audit.e2e-example.com/")

	id := uniqueID("audit")
	dapp.Request(id, "eth_chainId")
	dapp.Response(id)

	var (
		method  string
		outcome string
		origin  string
	)
	require.Eventually(t, func() bool {
		err := testDB.QueryRowContext(testContext,
			`SELECT method, outcome, domain FROM dapp_activity WHERE request_id = $1`, id).
			Scan(&method, &outcome, &origin)
		return err == nil
	}, 10*time.Second, 200*time.Millisecond)

	assert.Equal(t, "eth_chainId", method)
	assert.Equal(t, domain.OutcomeAnswered, outcome)
	assert.Equal(t, "audit.e2e-example.com", origin)
}

func TestActivity_RejectionAuditedWithErrorCode(t *testing.T) {
	wallet := DialWallet(t)
	wallet.Login("ivan")
	dapp := DialDapp(t, "https://audit-reject.e2e-example.com/")

	id := uniqueID("sign")
	dapp.Request(id, "personal_sign", "0x68656c6c6f", testAccount)
	approval := wallet.Approval("personal_sign")
	wallet.Decide(approval.ID, false, nil)
	dapp.Response(id)

	var code int
	require.Eventually(t, func() bool {
		err := testDB.QueryRowContext(testContext,
			`SELECT error_code FROM dapp_activity WHERE request_id = $1 AND outcome = $2`,
			id, domain.OutcomeRejected).Scan(&code)
		return err == nil
	}, 10*time.Second, 200*time.Millisecond)

	assert.Equal(t, domain.CodeUserRejected, code)
}

func TestActivity_FeedReachesWalletUI(t *testing.T) {
	wallet := DialWallet(t)
	dapp := DialDapp(t, "https://feed.e2e-example.com/")

	id := uniqueID("feed")
	dapp.Request(id, "net_version")
	dapp.Response(id)

	frame := wallet.WaitFor(10*time.Second, func(f Frame) bool {
		if f.Event != domain.EventActivity {
			return false
		}
		var event domain.ActivityEvent
		return json.Unmarshal(f.Data, &event) == nil && event.RequestID == id
	})

	var event domain.ActivityEvent
	require.NoError(t, json.Unmarshal(frame.Data, &event))
	assert.Equal(t, "net_version", event.Method)
	assert.Equal(t, "feed.e2e-example.com", event.Domain)
}

func TestActivity_BrokerReportedReady(t *testing.T) {
	var ready struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}

	resp := NewAPIClient(t, "").Do(http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	DecodeJSON(t, resp, &ready)

	for _, name := range []string{"database", "redis", "rabbitmq"} {
		assert.Equal(t, "up", ready.Checks[name].Status, name)
	}
}

func TestActivity_ListedThroughAPI(t *testing.T) {
	wallet := DialWallet(t)
	api := NewAPIClient(t, wallet.Login("judy"))
	dapp := DialDapp(t, "https://history.e2e-example.com/")

	id := uniqueID("history")
	dapp.Request(id, "eth_chainId")
	dapp.Response(id)

	require.Eventually(t, func() bool {
		resp := api.Do(http.MethodGet, "/api/v1/connections/history.e2e-example.com/activity?limit=10", nil)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		var body struct {
			Activity []domain.ActivityEvent `json:"activity"`
		}
		DecodeJSON(t, resp, &body)
		for _, event := range body.Activity {
			if event.RequestID == id {
				return true
			}
		}
		return false
	}, 10*time.Second, 200*time.Millisecond)
}
