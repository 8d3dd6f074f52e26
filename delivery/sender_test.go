package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSenderPostsEnvelope(t *testing.T) {
	var gotBody []byte
	var gotSig, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Hub-Signature")
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	send := HTTPSender(srv.URL, srv.Client())
	err := send(context.Background(), "youtube.live.started", []byte(`{"a":1}`), "deadbeef")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if string(gotBody) != `{"a":1}` {
		t.Errorf("body = %s", gotBody)
	}
	if gotSig != "sha256=deadbeef" {
		t.Errorf("signature = %q", gotSig)
	}
	if gotCT != "application/json" {
		t.Errorf("content type = %q", gotCT)
	}
}

func TestHTTPSenderOmitsEmptySignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Hub-Signature"]; ok {
			t.Error("unexpected signature header")
		}
	}))
	defer srv.Close()

	send := HTTPSender(srv.URL, srv.Client())
	if err := send(context.Background(), "youtube.live.started", []byte(`{}`), ""); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestHTTPSenderNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	send := HTTPSender(srv.URL, srv.Client())
	if err := send(context.Background(), "youtube.live.started", []byte(`{}`), ""); err == nil {
		t.Fatal("expected error for 502")
	}
}
