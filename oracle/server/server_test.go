package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/daemon"
	"github.com/GPTx-global/guru-oracle/oracle/health"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type fakeDaemon struct {
	mu       sync.Mutex
	snapshot *types.Snapshot
	runErr   error
	started  []uint64
	stops    int
	recent   []types.Activity
	feed     event.Feed
}

func (f *fakeDaemon) setSnapshot(snap types.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = &snap
}

func (f *fakeDaemon) setRunError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
}

func (f *fakeDaemon) calls() ([]uint64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.started...), f.stops
}

func (f *fakeDaemon) Status() daemon.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := daemon.Status{Target: 50312, DeployState: "Idle"}
	if n := len(f.started); n > 0 && f.stops == 0 {
		st.Sync = types.SyncJobState{Running: true, IntervalSeconds: f.started[n-1]}
	}
	return st
}

func (f *fakeDaemon) Snapshot() (types.Snapshot, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return types.Snapshot{}, time.Time{}, false
	}
	return *f.snapshot, time.Unix(1_700_000_000, 0), true
}

func (f *fakeDaemon) RunOnce(context.Context) (types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return types.Snapshot{}, f.runErr
	}
	return types.Snapshot{LatestPrice: big.NewInt(1234568), LastUpdated: 1_700_000_000}, nil
}

func (f *fakeDaemon) Refresh(context.Context) (types.Snapshot, error) {
	snap, _, ok := f.Snapshot()
	if !ok {
		return types.Snapshot{}, errorsmod.Wrap(types.ErrNoOracle, "nothing bound")
	}
	return snap, nil
}

func (f *fakeDaemon) StartAuto(seconds uint64) error {
	if seconds < types.MinSyncInterval {
		return errorsmod.Wrap(types.ErrInvalidArgument, "interval too short")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, seconds)
	return nil
}

func (f *fakeDaemon) StopAuto() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeDaemon) Recent() []types.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Activity(nil), f.recent...)
}

func (f *fakeDaemon) SubscribeActivity(ch chan<- types.Activity) event.Subscription {
	return f.feed.Subscribe(ch)
}

type ServerTestSuite struct {
	suite.Suite
	daemon  *fakeDaemon
	checker *health.Checker
	server  *Server
	http    *httptest.Server
}

func (suite *ServerTestSuite) SetupSuite() {
	log.InitLogger()
}

func (suite *ServerTestSuite) SetupTest() {
	suite.daemon = &fakeDaemon{}
	suite.checker = health.NewChecker(time.Minute, time.Second)
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	sink.IncrCounter([]string{"oracle", "sync", "success"}, 1)

	suite.server = New(suite.daemon, suite.checker, sink, []string{"http://localhost:5173"})
	suite.http = httptest.NewServer(suite.server.Handler())
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.http.Close()
}

func (suite *ServerTestSuite) do(method, path string) (*http.Response, map[string]interface{}) {
	req, err := http.NewRequest(method, suite.http.URL+path, nil)
	suite.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	var body map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func (suite *ServerTestSuite) TestStatus() {
	resp, body := suite.do(http.MethodGet, "/status")

	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("application/json", resp.Header.Get("Content-Type"))
	suite.Equal(float64(50312), body["targetNetwork"])
	suite.Equal(false, body["connected"])
}

func (suite *ServerTestSuite) TestSnapshot() {
	resp, body := suite.do(http.MethodGet, "/snapshot")
	suite.Equal(http.StatusNotFound, resp.StatusCode)
	apiErr := body["error"].(map[string]interface{})
	suite.Equal(types.Codespace, apiErr["codespace"])
	suite.Equal(float64(types.ErrNoOracle.ABCICode()), apiErr["code"])

	suite.daemon.setSnapshot(types.Snapshot{LatestPrice: big.NewInt(1234568), DataSource: "CoinGecko BTC/USD"})
	resp, body = suite.do(http.MethodGet, "/snapshot")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("12345.68", body["price"])
}

func (suite *ServerTestSuite) TestSync() {
	resp, body := suite.do(http.MethodPost, "/sync")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("12345.68", body["price"])

	testCases := []struct {
		err    error
		status int
	}{
		{errorsmod.Wrap(types.ErrSyncBusy, "busy"), http.StatusConflict},
		{types.NewSyncError("fetch", errorsmod.Wrap(types.ErrMalformedResponse, "bad body")), http.StatusBadGateway},
		{errorsmod.Wrap(types.ErrNoOracle, "none"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		suite.daemon.setRunError(tc.err)

		resp, _ := suite.do(http.MethodPost, "/sync")
		suite.Equal(tc.status, resp.StatusCode, tc.err.Error())
	}
}

func (suite *ServerTestSuite) TestSyncRequiresPost() {
	resp, err := http.Get(suite.http.URL + "/sync")
	suite.Require().NoError(err)
	resp.Body.Close()
	suite.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

func (suite *ServerTestSuite) TestRefresh() {
	resp, _ := suite.do(http.MethodPost, "/refresh")
	suite.Equal(http.StatusNotFound, resp.StatusCode)

	suite.daemon.setSnapshot(types.Snapshot{LatestPrice: big.NewInt(5)})
	resp, body := suite.do(http.MethodPost, "/refresh")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("0.05", body["price"])
}

func (suite *ServerTestSuite) TestAutoStartStop() {
	resp, body := suite.do(http.MethodPost, "/auto/start?interval=10")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal(true, body["running"])
	suite.Equal(float64(10), body["intervalSeconds"])

	resp, _ = suite.do(http.MethodPost, "/auto/start")
	suite.Equal(http.StatusOK, resp.StatusCode)
	started, _ := suite.daemon.calls()
	suite.Equal([]uint64{10, types.DefaultSyncInterval}, started)

	resp, _ = suite.do(http.MethodPost, "/auto/start?interval=2")
	suite.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = suite.do(http.MethodPost, "/auto/start?interval=soon")
	suite.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, body = suite.do(http.MethodPost, "/auto/stop")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal(false, body["running"])
	_, stops := suite.daemon.calls()
	suite.Equal(1, stops)
}

func (suite *ServerTestSuite) TestHealth() {
	suite.checker.Add(health.NewCheck(health.CheckRPC, func(context.Context) error { return nil }))
	suite.checker.RunChecks(context.Background())

	resp, body := suite.do(http.MethodGet, "/health")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal(true, body["healthy"])

	suite.checker.Add(health.NewCheck(health.CheckPriceSource, func(context.Context) error { return errors.New("down") }))
	suite.checker.RunChecks(context.Background())

	resp, body = suite.do(http.MethodGet, "/health")
	suite.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	suite.Equal(false, body["healthy"])
}

func (suite *ServerTestSuite) TestMetrics() {
	resp, body := suite.do(http.MethodGet, "/metrics")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Contains(body, "Counters")
}

func (suite *ServerTestSuite) TestCORS() {
	req, err := http.NewRequest(http.MethodOptions, suite.http.URL+"/status", nil)
	suite.Require().NoError(err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()
	suite.Equal("http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (suite *ServerTestSuite) TestEvents() {
	// Given one record already recorded
	suite.daemon.mu.Lock()
	suite.daemon.recent = []types.Activity{{Kind: types.ActivityInfo, Message: "connected"}}
	suite.daemon.mu.Unlock()

	url := "ws" + strings.TrimPrefix(suite.http.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	suite.Require().NoError(err)
	defer conn.Close()

	// Then the recorded activity arrives first
	var a types.Activity
	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	suite.Require().NoError(conn.ReadJSON(&a))
	suite.Equal("connected", a.Message)

	// And new records follow
	suite.Eventually(func() bool {
		return suite.daemon.feed.Send(types.Activity{Kind: types.ActivitySuccess, Message: "price updated"}) > 0
	}, 2*time.Second, 10*time.Millisecond)
	suite.Require().NoError(conn.ReadJSON(&a))
	suite.Equal("price updated", a.Message)
	suite.Equal(types.ActivitySuccess, a.Kind)
}

func (suite *ServerTestSuite) TestEventsRejectsForeignOrigin() {
	url := "ws" + strings.TrimPrefix(suite.http.URL, "http") + "/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	suite.Error(err)
	suite.Require().NotNil(resp)
	suite.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
