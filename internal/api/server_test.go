package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/fastchecker/internal/api"
	"github.com/vrsandeep/fastchecker/internal/config"
	"github.com/vrsandeep/fastchecker/internal/core"
	"github.com/vrsandeep/fastchecker/internal/logger"
	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/orchestrator"
	"github.com/vrsandeep/fastchecker/internal/panel"
)

type agentFixture struct {
	relay *relayFixture
	app   *core.App
	srv   *httptest.Server
}

func newAgentFixture(t *testing.T, opts ...func(*config.Config)) *agentFixture {
	t.Helper()
	relay := newRelayFixture(t)

	cfg := &config.Config{}
	cfg.Database.Path = ":memory:"
	cfg.Sellability.Provider = "mock"
	cfg.Sellability.Marketplace = "US"
	cfg.Credentials = models.Credentials{RefreshToken: "r", ClientID: "c", ClientSecret: "s", SellerID: "S1"}
	cfg.Agent.RelayURL = "ws" + strings.TrimPrefix(relay.srv.URL, "http") + "/ws"
	cfg.Agent.MailboxURL = relay.srv.URL + "/mailbox"
	cfg.Agent.ReconnectDelay = 50 * time.Millisecond
	cfg.Agent.ItemDelay = time.Millisecond
	cfg.Agent.LookupTimeout = time.Second
	for _, opt := range opts {
		opt(cfg)
	}

	app, err := core.NewFromConfig(cfg, logger.Nop())
	require.NoError(t, err)
	server := api.NewServer(app)
	app.Start()
	srv := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})

	require.Eventually(t, func() bool {
		return app.Conn().State() == orchestrator.Connected && relay.hub.ClientCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	return &agentFixture{relay: relay, app: app, srv: srv}
}

func (f *agentFixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (f *agentFixture) waitFullyDone(t *testing.T) panel.Snapshot {
	t.Helper()
	var snap panel.Snapshot
	require.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/api/results", "")
		snap = panel.Snapshot{}
		return json.Unmarshal(body, &snap) == nil && snap.FullyDone
	}, 3*time.Second, 10*time.Millisecond)
	return snap
}

func TestAgent_Health(t *testing.T) {
	f := newAgentFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)

	var out struct {
		Status string                 `json:"status"`
		Relay  string                 `json:"relay"`
		Run    orchestrator.RunStatus `json:"run"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "connected", out.Relay)
	assert.Equal(t, orchestrator.RunIdle, out.Run.State)
}

func TestAgent_CheckRejectsEmptyInput(t *testing.T) {
	f := newAgentFixture(t)
	code, body := f.do(t, http.MethodPost, "/api/check", `{"text":" , "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), orchestrator.ErrNoItems.Error())

	code, _ = f.do(t, http.MethodPost, "/api/check", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAgent_CheckAndExport(t *testing.T) {
	f := newAgentFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/check", `{"text":"B01, B02\nB03"}`)
	require.Equal(t, http.StatusAccepted, code, string(body))

	snap := f.waitFullyDone(t)
	require.Len(t, snap.Results, 3)
	assert.Equal(t, "B03", snap.Results[0].ItemID)

	code, body = f.do(t, http.MethodGet, "/api/export", "")
	assert.Equal(t, http.StatusOK, code)
	var rows []panel.ExportRow
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"B01", "B02", "B03"}, []string{rows[0].ItemID, rows[1].ItemID, rows[2].ItemID})

	code, body = f.do(t, http.MethodGet, "/api/export?format=csv", "")
	assert.Equal(t, http.StatusOK, code)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "BRAND,TITLE,ASIN,STATUS", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",B01,SELLABLE"))
}

func TestAgent_ManualVerdictThroughRelay(t *testing.T) {
	f := newAgentFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/check", `{"asins":["A","GATED-B","C"]}`)
	require.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		return f.app.Runner().Status().State == orchestrator.RunCompleted
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, f.app.Panel().IsFullyDone())

	f.relay.post(t, "/report-result", `{"type":"manual-result","item_id":"GATED-B","manual_status":"does_not_qualify"}`)
	snap := f.waitFullyDone(t)
	assert.Equal(t, "GATED-B", snap.Results[0].ItemID)

	code, body := f.do(t, http.MethodGet, "/api/manual-results", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"GATED-B":"does_not_qualify"}`, string(body))
}

func TestAgent_StopWhenIdle(t *testing.T) {
	f := newAgentFixture(t)
	code, body := f.do(t, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":true,"was_running":false}`, string(body))
}

func TestAgent_MarketPricesGoThroughRelay(t *testing.T) {
	f := newAgentFixture(t)
	watcher := f.relay.subscribe(t, "/ws")

	code, _ := f.do(t, http.MethodPost, "/api/market-prices", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/market-prices", `{"item_id":"B01"}`)
	require.Equal(t, http.StatusAccepted, code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))

	msg, err := models.DecodeRelayMessage([]byte(readFrame(t, watcher)))
	require.NoError(t, err)
	req := msg.(models.MarketPriceRequest)
	assert.Equal(t, out["request_id"], req.RequestID)
	assert.Equal(t, orchestrator.DefaultPriceMarkets, req.Markets)
}

func TestAgent_JobsAndProviders(t *testing.T) {
	f := newAgentFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/jobs/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "relay-watchdog")

	code, _ = f.do(t, http.MethodPost, "/api/jobs/run", `{"job_id":"relay-watchdog"}`)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(t, http.MethodPost, "/api/jobs/run", `{"job_id":"nope"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, body = f.do(t, http.MethodGet, "/api/providers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":"mock","name":"Mock"},{"id":"spapi","name":"Selling Partner API"}]`, string(body))
}

func TestAgent_PanelSocket(t *testing.T) {
	f := newAgentFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.app.WsHub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"action":"checkAsin","data":{"asins":["X1","X2"]}}`)))

	var actions []string
	for len(actions) < 4 {
		var e models.Event
		require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &e))
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{
		models.ActionCheckStarted,
		models.ActionAsinResult,
		models.ActionAsinResult,
		models.ActionAsinCheckDone,
	}, actions)
}

func TestAgent_PanelSocketRejectedCheck(t *testing.T) {
	f := newAgentFixture(t, func(cfg *config.Config) { cfg.Credentials = models.Credentials{} })

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.app.WsHub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"action":"checkAsin","data":{"asins":["X1"]}}`)))

	var e models.Event
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &e))
	assert.Equal(t, models.ActionCheckRejected, e.Action)
	assert.Equal(t, orchestrator.ErrMissingCredentials.Error(), e.Error)
	assert.Equal(t, orchestrator.RunIdle, f.app.Runner().Status().State)

	// Empty input is reported the same way.
	require.NoError(t, conn.WriteMessage(gws.TextMessage,
		[]byte(`{"action":"checkAsin","data":{"asins":[],"credentials":{"refresh_token":"r","client_id":"c","client_secret":"s","seller_id":"S1"}}}`)))
	e = models.Event{}
	require.NoError(t, json.Unmarshal([]byte(readFrame(t, conn)), &e))
	assert.Equal(t, models.ActionCheckRejected, e.Action)
	assert.Equal(t, orchestrator.ErrNoItems.Error(), e.Error)
}
