package response

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildFixedBody(t *testing.T) {
	out := OK().Header("Content-Type", "text/plain").BodyString("Hello").Build()
	s := string(out)

	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", s)
	}
	if !strings.Contains(s, "Content-Type: text/plain\r\n") {
		t.Fatalf("missing content-type header: %q", s)
	}
	if !strings.Contains(s, "Content-Length: 5\r\n") {
		t.Fatalf("missing content-length header: %q", s)
	}
	if !strings.HasSuffix(s, "\r\n\r\nHello") {
		t.Fatalf("unexpected body framing: %q", s)
	}
}

func TestBuildExplicitContentLengthNotOverwritten(t *testing.T) {
	out := OK().Header("Content-Length", "999").BodyString("Hi").Build()
	if !strings.Contains(string(out), "Content-Length: 999\r\n") {
		t.Fatalf("expected explicit content-length preserved, got %q", out)
	}
}

func TestBuildChunked(t *testing.T) {
	out := OK().
		Header("Content-Type", "text/plain").
		Chunked().
		Chunk([]byte("Hello")).
		Chunk([]byte(" ")).
		Chunk([]byte("World!")).
		Build()
	s := string(out)

	if !strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", s)
	}
	if !strings.Contains(s, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing transfer-encoding header: %q", s)
	}
	if !strings.Contains(s, "5\r\nHello\r\n") {
		t.Fatalf("missing first chunk framing: %q", s)
	}
	if !strings.Contains(s, "1\r\n \r\n") {
		t.Fatalf("missing second chunk framing: %q", s)
	}
	if !strings.Contains(s, "6\r\nWorld!\r\n") {
		t.Fatalf("missing third chunk framing: %q", s)
	}
	if !strings.HasSuffix(s, "0\r\n\r\n") {
		t.Fatalf("missing final chunk marker: %q", s)
	}
}

func TestBuildNotFound(t *testing.T) {
	out := NotFound().Build()
	if !bytes.HasPrefix(out, []byte("HTTP/1.1 404 Not Found\r\n")) {
		t.Fatalf("unexpected status line: %q", out)
	}
}

func TestStatusOverride(t *testing.T) {
	r := New(200).Status(204)
	if r.Code() != 204 {
		t.Fatalf("expected 204, got %d", r.Code())
	}
}
