package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/config"
	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/logging"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/storage/sqlite"
)

const (
	clientOrigin = "https://app.example.com"
	clientDomain = "app.example.com"
)

func newTestDaemon(t *testing.T, tweaks ...func(*config.ProfileConfig)) *daemon {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultProfile("test")
	cfg.Storage.DBPath = config.ResolvePath(dir, cfg.Storage.DBPath)
	cfg.HTTP.AllowedOrigins = []string{clientOrigin}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	db, err := sqlite.Open(cfg.Storage.DBPath, sqlite.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("init db: %v", err)
	}
	return newDaemon(cfg, dir, db, logging.NewNop())
}

func call(t *testing.T, h ipc.HandlerFunc, params any) any {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	out, ipcErr := h(context.Background(), raw)
	if ipcErr != nil {
		t.Fatalf("handler failed: %v", ipcErr)
	}
	return out
}

func encode(t *testing.T, obj rpc.Object) string {
	t.Helper()
	data, err := rpc.Encode(obj)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func post(t *testing.T, d *daemon, token string, obj rpc.Object) []string {
	t.Helper()
	res := call(t, d.handlePostMessage, postMessageParams{
		Origin: clientOrigin,
		Token:  token,
		Data:   encode(t, obj),
	}).(*postMessageResult)
	if res.Token != token {
		t.Fatalf("token = %q, want %q", res.Token, token)
	}
	return res.Replies
}

func TestStoreRoundTripThroughDaemon(t *testing.T) {
	d := newTestDaemon(t)
	ctx := context.Background()

	store := rpc.NewStoreRequest("store", []any{
		map[string]any{"email": "user@example.com", "displayName": "User"},
	}, map[string]any{"clientCallbackUrl": clientOrigin + "/done"})
	replies := post(t, d, "tok-1", store)
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}
	ack, err := rpc.Parse(replies[0], rpc.KindRequestAck)
	if err != nil || ack == nil {
		t.Fatalf("expected RequestAck, got %s (%v)", replies[0], err)
	}

	out := call(t, d.handleReplay, replayParams{Domain: clientDomain, Confirm: true}).(map[string]any)
	want := map[string]any{"outcome": "replayed", "navigated": []string{clientOrigin + "/done"}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}

	replies = post(t, d, "tok-2", rpc.NewClientReadyNotification())
	if len(replies) != 1 {
		t.Fatalf("expected saved response, got %v", replies)
	}
	obj, err := rpc.Parse(replies[0], rpc.KindResponse)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	resp, ok := obj.(*rpc.Response)
	if !ok || resp.ID != "store" || resp.Error != nil {
		t.Fatalf("unexpected response %s", replies[0])
	}

	list, err := d.dispatcher.Accounts.List(ctx)
	if err != nil || len(list) != 1 || list[0].Email != "user@example.com" {
		t.Fatalf("account not stored: %v %v", list, err)
	}

	// A second ClientReady finds nothing left.
	replies = post(t, d, "tok-3", rpc.NewClientReadyNotification())
	if len(replies) != 1 {
		t.Fatalf("expected empty response, got %v", replies)
	}
	if obj, _ := rpc.Parse(replies[0], rpc.KindEmptyResponse); obj == nil {
		t.Fatalf("expected EmptyResponse, got %s", replies[0])
	}
}

func TestQueryAnsweredByFrame(t *testing.T) {
	d := newTestDaemon(t)
	replies := post(t, d, "tok", rpc.NewQueryRequest("q", rpc.QueryEmpty, nil))
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}
	obj, _ := rpc.Parse(replies[0], rpc.KindResponse)
	resp, ok := obj.(*rpc.Response)
	if !ok || resp.Result != true {
		t.Fatalf("expected acEmpty=true, got %s", replies[0])
	}
}

func TestEmptyQueryBootstrapsFromProvider(t *testing.T) {
	var requests atomic.Int32
	idpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req["method"] != rpc.MethodGetIdpAccounts {
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jsonrpc":  "2.0",
			"rpcToken": req["rpcToken"],
			"id":       req["id"],
			"result":   []any{map[string]any{"email": "idp@example.com"}},
		})
	}))
	defer idpSrv.Close()

	d := newTestDaemon(t, func(cfg *config.ProfileConfig) {
		cfg.IDP.Endpoints = []string{idpSrv.URL + "/accounts"}
		cfg.IDP.AllowNonHTTPS = true
		cfg.IDP.Timeout = config.Duration{Duration: 5 * time.Second}
	})
	replies := post(t, d, "tok", rpc.NewQueryRequest("q", rpc.QueryEmpty, nil))
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}
	obj, _ := rpc.Parse(replies[0], rpc.KindResponse)
	if resp, ok := obj.(*rpc.Response); !ok || resp.Result != false {
		t.Fatalf("expected acEmpty=false, got %s", replies[0])
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("provider requests = %d, want 1", n)
	}
	list, err := d.dispatcher.Accounts.List(context.Background())
	if err != nil || len(list) != 1 || list[0].Email != "idp@example.com" {
		t.Fatalf("provider account not stored: %v %v", list, err)
	}
}

func TestPostMessageRejectsForeignToken(t *testing.T) {
	d := newTestDaemon(t)
	post(t, d, "shared", rpc.NewClientReadyNotification())
	_, ipcErr := d.postMessage(context.Background(), postMessageParams{
		Origin: "https://evil.example.com",
		Token:  "shared",
		Data:   encode(t, rpc.NewClientReadyNotification()),
	})
	if ipcErr == nil {
		t.Fatalf("expected reuse of a token from another origin to fail")
	}
}

func TestDisableThroughConfigSet(t *testing.T) {
	d := newTestDaemon(t)
	yes := true
	call(t, d.handleConfigSet, configSetParams{Disabled: &yes})
	replies := post(t, d, "tok", rpc.NewQueryRequest("q", rpc.QueryDisabled, nil))
	obj, _ := rpc.Parse(replies[0], rpc.KindResponse)
	if resp, ok := obj.(*rpc.Response); !ok || resp.Result != true {
		t.Fatalf("expected acDisabled=true, got %v", replies)
	}
}

func TestReplayWithoutSavedRequestGoesHome(t *testing.T) {
	d := newTestDaemon(t)
	out := call(t, d.handleReplay, replayParams{Domain: clientDomain}).(map[string]any)
	want := map[string]any{"outcome": "no saved request", "navigated": []string{"index.html"}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestExportWritesEntries(t *testing.T) {
	d := newTestDaemon(t)
	if err := d.dispatcher.Config.SetBootstrapDomain(context.Background(), "idp.example.com"); err != nil {
		t.Fatalf("set bootstrap domain: %v", err)
	}
	out := call(t, d.handleExport, map[string]any{}).(map[string]any)
	path := out["path"].(string)
	if filepath.Base(path) != snapshotFile {
		t.Fatalf("unexpected export path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if snap.Profile != "test" || len(snap.Entries) != 1 || snap.Entries[0].Scope != scopeConfig {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHTTPMessageUsesOriginHeader(t *testing.T) {
	d := newTestDaemon(t)
	body, _ := json.Marshal(postMessageParams{
		Origin: "https://ignored.example.com",
		Token:  "tok",
		Data:   encode(t, rpc.NewQueryRequest("q", rpc.QueryEmpty, nil)),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/message", bytes.NewReader(body))
	req.Header.Set("Origin", clientOrigin)
	rec := httptest.NewRecorder()
	d.httpHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != clientOrigin {
		t.Fatalf("missing cors header, got %q", got)
	}
	if d.sessions.sessions["tok"].origin != clientOrigin {
		t.Fatalf("session bound to wrong origin")
	}
}

func TestHTTPMessageRequiresOriginHeader(t *testing.T) {
	d := newTestDaemon(t)
	body, _ := json.Marshal(postMessageParams{
		Origin: clientOrigin,
		Token:  "tok",
		Data:   encode(t, rpc.NewQueryRequest("q", rpc.QueryEmpty, nil)),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/message", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.httpHandler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if n := d.sessions.count(); n != 0 {
		t.Fatalf("sessions = %d, want 0", n)
	}
}
