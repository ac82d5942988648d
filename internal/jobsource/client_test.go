package jobsource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bardlex/powminer/internal/work"
	"github.com/bardlex/powminer/pkg/errors"
	"github.com/bardlex/powminer/pkg/log"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL: url,
		Address: "1BitcoinEaterAddressDontSendf59kuE",
		Timeout: 2 * time.Second,
	}, log.NewNop())
}

func checkHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Address"); got != "1BitcoinEaterAddressDontSendf59kuE" {
		t.Errorf("Address header = %q", got)
	}
	if got := r.Header.Get("Chain"); got != "BSV" {
		t.Errorf("Chain header = %q", got)
	}
	if got := r.Header.Get("Wallet"); got != "PANDA" {
		t.Errorf("Wallet header = %q", got)
	}
}

func TestClient_FetchJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/token/search/bsv" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("ticker"); got != "PEPE" {
			t.Errorf("ticker query = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"challenge":"00ff","currentLocation":"txid_0","difficulty":2,"ticker":"PEPE","id":"token-1","supply":21000000}`)
	}))
	defer srv.Close()

	job, err := newTestClient(srv.URL).FetchJob(context.Background(), "PEPE")
	if err != nil {
		t.Fatalf("FetchJob failed: %v", err)
	}

	if job.ChallengeHex != "00ff" || job.Challenge[0] != 0xff || job.Challenge[1] != 0x00 {
		t.Errorf("challenge = %q / %x", job.ChallengeHex, job.Challenge)
	}
	if job.Difficulty != 2 || job.Location != "txid_0" || job.ID != "token-1" || job.Ticker != "PEPE" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestClient_FetchJob_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  errors.ErrorType
		retryable bool
	}{
		{"server error", http.StatusBadGateway, "upstream down", errors.ErrorTypeJobSource, true},
		{"not found", http.StatusNotFound, "no such ticker", errors.ErrorTypeJobSource, false},
		{"malformed json", http.StatusOK, "{not json", errors.ErrorTypeJobSource, false},
		{"empty job", http.StatusOK, "{}", errors.ErrorTypeJobSource, false},
		{"bad challenge hex", http.StatusOK, `{"challenge":"zz","difficulty":1,"id":"x"}`, errors.ErrorTypeValidation, false},
		{"negative difficulty", http.StatusOK, `{"challenge":"00","difficulty":-1,"id":"x"}`, errors.ErrorTypeValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchJob(context.Background(), "PEPE")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.IsType(err, tt.wantType) {
				t.Errorf("error type mismatch, want %s: %v", tt.wantType, err)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", errors.IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestClient_FetchJob_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).FetchJob(context.Background(), "PEPE")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !errors.IsType(err, errors.ErrorTypeNetwork) {
		t.Errorf("expected network error, got %v", err)
	}
}

func TestClient_FetchJob_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).FetchJob(ctx, "PEPE")
	if !errors.IsTimeout(err) {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestClient_SubmitSolution(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkHeaders(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/mint/save" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := sonic.Unmarshal(body, &got); err != nil {
			t.Errorf("bad submit body %q: %v", body, err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	job := &work.Job{Challenge: []byte{0xff, 0x00}, Location: "txid_0", ID: "token-1"}
	var hash [work.HashSize]byte
	hash[1] = 0x0a
	sol := work.NewSolution(job, [work.NonceSize]byte{1, 2, 3, 4, 5, 6, 7, 8}, hash)

	status, body, err := newTestClient(srv.URL).SubmitSolution(context.Background(), &sol)
	if err != nil {
		t.Fatalf("SubmitSolution failed: %v", err)
	}
	if status != http.StatusCreated || body != `{"ok":true}` {
		t.Errorf("status=%d body=%q", status, body)
	}

	want := submitRequest{
		BsvContractLocation: "txid_0",
		Nonce:               "0102030405060708",
		TokenID:             "token-1",
		WinningHash:         sol.HashHex(),
	}
	if got != want {
		t.Errorf("submitted %+v, want %+v", got, want)
	}
}

func TestClient_SubmitSolution_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "stale")
	}))
	defer srv.Close()

	sol := work.NewSolution(&work.Job{}, [work.NonceSize]byte{}, [work.HashSize]byte{})
	status, body, err := newTestClient(srv.URL).SubmitSolution(context.Background(), &sol)
	if err != nil {
		t.Fatalf("SubmitSolution failed: %v", err)
	}
	if status != http.StatusBadRequest || body != "stale" {
		t.Errorf("status=%d body=%q", status, body)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{}, log.NewNop())
	if c.baseURL != DefaultURL {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.chain != "BSV" || c.wallet != "PANDA" {
		t.Errorf("chain=%q wallet=%q", c.chain, c.wallet)
	}

	c = NewClient(Config{BaseURL: "http://example.test/"}, log.NewNop())
	if c.baseURL != "http://example.test" {
		t.Errorf("trailing slash not trimmed: %q", c.baseURL)
	}
}
