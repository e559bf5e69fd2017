package caldav

import (
	"net/http"
	"testing"
)

type captureTransport struct {
	req *http.Request
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.req = req
	return &http.Response{StatusCode: http.StatusOK}, nil
}

func TestBasicAuthTransport(t *testing.T) {
	capture := &captureTransport{}
	transport := &basicAuthTransport{
		Username:  "user@example.com",
		Password:  "secret",
		Transport: capture,
	}

	req, err := http.NewRequest(http.MethodGet, "https://caldav.example.com/cal/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := transport.RoundTrip(req); err != nil {
		t.Fatal(err)
	}

	user, pass, ok := capture.req.BasicAuth()
	if !ok || user != "user@example.com" || pass != "secret" {
		t.Errorf("basic auth not set: ok=%v user=%q", ok, user)
	}
	if got := capture.req.Header.Get("User-Agent"); got != "icalfix/1.0" {
		t.Errorf("unexpected User-Agent %q", got)
	}
}
