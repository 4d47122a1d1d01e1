package http11

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/yourusername/relay/pkg/buffer"
	"github.com/yourusername/relay/pkg/bytesource"
	"github.com/yourusername/relay/pkg/date"
)

func newTestConnection(t *testing.T, handler Handler) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { clientSide.Close() })

	pool := buffer.NewPool()
	ds := date.NewServer()
	t.Cleanup(ds.Stop)

	cfg := DefaultConnectionConfig()
	cfg.IdleTimeout = time.Second

	c := NewConnection(serverSide, cfg, handler, ds, pool)
	return c, clientSide
}

func TestConnectionServesSingleRequestAndCloses(t *testing.T) {
	handler := func(req *Request, rw *ResponseWriter) error {
		if !req.IsGET() || req.PathString() != "/hello" {
			t.Fatalf("unexpected request: %s %s", req.MethodString(), req.PathString())
		}
		return rw.WriteText(200, []byte("hi"))
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := client.Write([]byte("GET /hello HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n"))
	if err != nil {
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q, want 200 OK", statusLine)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() returned error = %v, want nil after Connection: close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after a Connection: close request")
	}
}

func TestConnectionKeepAlivePipelinesTwoRequests(t *testing.T) {
	var seen []string
	handler := func(req *Request, rw *ResponseWriter) error {
		seen = append(seen, req.PathString())
		return rw.WriteText(200, []byte("ok"))
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	req := "GET /first HTTP/1.1\r\nHost: a\r\n\r\nGET /second HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			t.Fatalf("reading response %d: %v", i, err)
		}
		if _, err := io.ReadAll(resp.Body); err != nil {
			t.Fatalf("reading response %d body: %v", i, err)
		}
		resp.Body.Close()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after two pipelined requests")
	}

	if len(seen) != 2 || seen[0] != "/first" || seen[1] != "/second" {
		t.Fatalf("handler saw paths %v, want [/first /second]", seen)
	}
}

func TestConnectionDrainsUnreadBodyBeforeNextRequest(t *testing.T) {
	var secondBody string
	count := 0
	handler := func(req *Request, rw *ResponseWriter) error {
		count++
		if count == 2 {
			b, err := bytesource.Collect(req.Body)
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			secondBody = string(b)
		}
		// First handler deliberately never reads req.Body.
		return rw.WriteText(200, []byte("ok"))
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	req := "POST /ignored HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\n\r\nhelloPOST /second HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nConnection: close\r\n\r\nworld"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	for i := 0; i < 2; i++ {
		resp, err := http.ReadResponse(reader, nil)
		if err != nil {
			t.Fatalf("reading response %d: %v", i, err)
		}
		if _, err := io.ReadAll(resp.Body); err != nil {
			t.Fatalf("reading response %d body: %v", i, err)
		}
		resp.Body.Close()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}

	if secondBody != "world" {
		t.Fatalf("second request body = %q, want %q (first request's unread body must not leak)", secondBody, "world")
	}
}

func TestConnectionSendsContinueBeforeBody(t *testing.T) {
	handler := func(req *Request, rw *ResponseWriter) error {
		if err := req.SendContinue(); err != nil {
			return err
		}
		b, err := bytesource.Collect(req.Body)
		if err != nil {
			return err
		}
		return rw.WriteText(200, b)
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	head := "POST /upload HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\nExpect: 100-continue\r\nConnection: close\r\n\r\n"
	if _, err := client.Write([]byte(head)); err != nil {
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	continueLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading 100-continue line: %v", err)
	}
	if continueLine != "HTTP/1.1 100 Continue\r\n" {
		t.Fatalf("first response line = %q, want 100 Continue", continueLine)
	}
	if blank, err := reader.ReadString('\n'); err != nil || blank != "\r\n" {
		t.Fatalf("line ending the 100 Continue response = %q, %v; want blank line", blank, err)
	}

	if _, err := client.Write([]byte("body")); err != nil {
		t.Fatalf("client body write error: %v", err)
	}

	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading final status line: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("final status line = %q, want 200 OK", statusLine)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
}

func TestConnectionWithholdsContinueUnlessHandlerRequestsIt(t *testing.T) {
	handler := func(req *Request, rw *ResponseWriter) error {
		// Deliberately never calls req.SendContinue(): the handler rejects
		// the upload from headers alone without ever reading the body.
		return rw.WriteError(413, "nope")
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	head := "POST /upload HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\nExpect: 100-continue\r\nConnection: close\r\n\r\n"
	if _, err := client.Write([]byte(head)); err != nil {
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 413 Payload Too Large\r\n" {
		t.Fatalf("status line = %q, want 413 directly (no 100 Continue) since the handler never called SendContinue", statusLine)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
}

func TestConnectionMalformedRequestGetsErrorStatus(t *testing.T) {
	handler := func(req *Request, rw *ResponseWriter) error {
		t.Fatal("handler should not run for a malformed request")
		return nil
	}
	c, client := newTestConnection(t, handler)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil { // missing Host
		t.Fatalf("client write error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if statusLine != "HTTP/1.1 400 Bad Request\r\n" {
		t.Fatalf("status line = %q, want 400 Bad Request", statusLine)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Serve() returned nil, want the parse error after a malformed request")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
}
