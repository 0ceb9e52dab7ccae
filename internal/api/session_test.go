package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qstation/qstation/internal/config"
)

func testSettings(t *testing.T, srv *httptest.Server) config.Settings {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return config.Settings{
		Address:  u.Hostname(),
		Port:     u.Port(),
		Login:    "admin",
		Password: "secret",
		TempDir:  "/share/Download",
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(testSettings(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	// Keep fallback tests fast.
	client.sleep = func(time.Duration) {}
	return client
}

// loginHandler answers the login endpoint with a fixed sid and counts calls.
type loginHandler struct {
	sid    atomic.Value // string
	count  atomic.Int32
	delay  time.Duration
	status int
}

func (h *loginHandler) serve(w http.ResponseWriter, r *http.Request) {
	h.count.Add(1)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.status != 0 && h.status != http.StatusOK {
		w.WriteHeader(h.status)
		return
	}
	sid, _ := h.sid.Load().(string)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"error":0,"sid":"` + sid + `","user":"admin"}`))
}

func TestSessionLoginOnDemand(t *testing.T) {
	login := &loginHandler{}
	login.sid.Store("abc")

	var sids []string
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad login form: %v", err)
		}
		if got := r.PostFormValue("user"); got != "admin" {
			t.Errorf("login user = %q, want admin", got)
		}
		wantPass := base64.StdEncoding.EncodeToString([]byte("secret"))
		if got := r.PostFormValue("pass"); got != wantPass {
			t.Errorf("login pass = %q, want base64-encoded password", got)
		}
		login.serve(w, r)
	})
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		sids = append(sids, r.PostFormValue("sid"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"data":[]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.QueryTasks(ctx, QueryParams{}); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}

	if got := login.count.Load(); got != 1 {
		t.Errorf("login count = %d, want 1 (token reused)", got)
	}
	for i, sid := range sids {
		if sid != "abc" {
			t.Errorf("request %d carried sid %q, want abc", i, sid)
		}
	}
}

func TestSessionReloginAfterUnauthorized(t *testing.T) {
	login := &loginHandler{}
	login.sid.Store("first")

	var reject atomic.Bool
	var lastSID atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, login.serve)
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		lastSID.Store(r.PostFormValue("sid"))
		if reject.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"data":[]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	ctx := context.Background()

	if _, err := client.QueryTasks(ctx, QueryParams{}); err != nil {
		t.Fatalf("first query: %v", err)
	}

	// The NAS starts rejecting the sid. The failing response surfaces to
	// the caller and the token is dropped.
	reject.Store(true)
	if _, err := client.QueryTasks(ctx, QueryParams{}); err == nil {
		t.Fatal("expected error from 401 response")
	}
	if sid := client.session.SID(); sid != "" {
		t.Errorf("sid not cleared after 401, still %q", sid)
	}

	// Next request logs in again with the new sid.
	reject.Store(false)
	login.sid.Store("second")
	if _, err := client.QueryTasks(ctx, QueryParams{}); err != nil {
		t.Fatalf("query after relogin: %v", err)
	}
	if got := login.count.Load(); got != 2 {
		t.Errorf("login count = %d, want 2", got)
	}
	if got, _ := lastSID.Load().(string); got != "second" {
		t.Errorf("request after relogin carried sid %q, want second", got)
	}
}

func TestSessionSingleFlightLogin(t *testing.T) {
	login := &loginHandler{delay: 50 * time.Millisecond}
	login.sid.Store("abc")

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, login.serve)
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"data":[]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.QueryTasks(context.Background(), QueryParams{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent query failed: %v", err)
		}
	}
	if got := login.count.Load(); got != 1 {
		t.Errorf("login count = %d, want 1 shared in-flight login", got)
	}
}

func TestSessionLoginSurvivesWinnerCancellation(t *testing.T) {
	loginStarted := make(chan struct{})
	loginRelease := make(chan struct{})
	var loginCount atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		loginCount.Add(1)
		close(loginStarted)
		<-loginRelease
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"sid":"abc"}`))
	})
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"data":[]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)

	// Winner starts the login, then cancels while it is in flight.
	winnerCtx, cancelWinner := context.WithCancel(context.Background())
	winnerDone := make(chan error, 1)
	go func() {
		_, err := client.QueryTasks(winnerCtx, QueryParams{})
		winnerDone <- err
	}()
	<-loginStarted

	// A second caller with a live context joins the same login.
	waiterDone := make(chan error, 1)
	go func() {
		_, err := client.QueryTasks(context.Background(), QueryParams{})
		waiterDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelWinner()
	time.Sleep(20 * time.Millisecond)
	close(loginRelease)

	if err := <-waiterDone; err != nil {
		t.Errorf("waiter failed after winner cancelled: %v", err)
	}
	<-winnerDone

	if got := loginCount.Load(); got != 1 {
		t.Errorf("login count = %d, want the single login to complete", got)
	}
	if sid := client.session.SID(); sid != "abc" {
		t.Errorf("sid = %q, want abc", sid)
	}
}

func TestSessionLoginFailureBlocksRequest(t *testing.T) {
	var protectedCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		protectedCalls.Add(1)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)

	if _, err := client.QueryTasks(context.Background(), QueryParams{}); err == nil {
		t.Fatal("expected login failure to propagate")
	}
	if got := protectedCalls.Load(); got != 0 {
		t.Errorf("protected endpoint was called %d times despite failed login", got)
	}
}

func TestSessionLegacyXMLLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<QDocRoot><authPassed>1</authPassed><sid>legacysid</sid></QDocRoot>`))
	})
	mux.HandleFunc(pathTaskQuery, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostFormValue("sid"); got != "legacysid" {
			t.Errorf("sid = %q, want legacysid", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":0,"data":[]}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	if _, err := client.QueryTasks(context.Background(), QueryParams{}); err != nil {
		t.Fatalf("query with XML login: %v", err)
	}
}

func TestProbeSkipsAuthentication(t *testing.T) {
	var loginCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		loginCalls.Add(1)
	})
	mux.HandleFunc(pathProbe, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	if !client.TestConnection(context.Background()) {
		t.Error("probe against live server should succeed")
	}
	if got := loginCalls.Load(); got != 0 {
		t.Errorf("probe triggered %d logins, want 0", got)
	}
}
