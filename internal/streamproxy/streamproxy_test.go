package streamproxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPumpCopiesFullBodyOnSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := Pump(context.Background(), &out, srv.URL, Options{Client: srv.Client()})
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("got %d bytes, want %d", out.Len(), len(payload))
	}
}

func TestPumpReturnsStatusErrorOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := Pump(context.Background(), &out, srv.URL, Options{Client: srv.Client()})
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d", se.StatusCode)
	}
}

func TestPumpReconnectsAfterMidStreamDrop(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			// Write a little, then drop the connection by hijacking and
			// closing without finishing — simulating a mid-stream failure.
			w.Write([]byte("partial"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			hj, ok := w.(http.Hijacker)
			if !ok {
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write([]byte("rest"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := Pump(context.Background(), &out, srv.URL, Options{
		Client:           srv.Client(),
		ReconnectEnabled: true,
	})
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected at least 2 connection attempts, got %d", calls.Load())
	}
}

func TestPumpRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("start"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := Pump(ctx, &out, srv.URL, Options{Client: srv.Client()})
	if err == nil {
		t.Fatal("expected an error from context cancellation")
	}
}

func TestBufferedWriterDrainsInOrder(t *testing.T) {
	var out bytes.Buffer
	bw := newBufferedWriter(&out, 4)
	for _, s := range []string{"a", "b", "c"} {
		if _, err := bw.Write([]byte(s)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	bw.Close()
	if out.String() != "abc" {
		t.Fatalf("got %q", out.String())
	}
}

var _ io.Writer = (*bufferedWriter)(nil)
