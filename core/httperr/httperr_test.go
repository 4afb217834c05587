package httperr

import (
	"errors"
	"testing"
)

func TestServerErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIO, "read failed", cause)
	if errors.Unwrap(err) != cause {
		t.Fatalf("expected Unwrap to return cause")
	}
}

func TestHTTPErrorBodyWithDetails(t *testing.T) {
	err := BadRequest("missing header").WithDetails("X-Required-Header")
	body := err.Body()
	if body != "missing header\n\nX-Required-Header" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestHTTPErrorBodyWithoutDetails(t *testing.T) {
	err := NotFound("no such resource")
	if err.Body() != "no such resource" {
		t.Fatalf("unexpected body: %q", err.Body())
	}
}

func TestFromServerErrorClassification(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindRouteNotFound, 404},
		{KindParseInvalid, 400},
		{KindParseTooLarge, 413},
		{KindMethodNotAllowed, 405},
		{KindHandlerPanic, 500},
		{KindIO, 500},
	}
	for _, c := range cases {
		httpErr := FromServerError(New(c.kind, "reason"))
		if httpErr.StatusCode != c.status {
			t.Fatalf("kind %v: expected status %d, got %d", c.kind, c.status, httpErr.StatusCode)
		}
	}
}
