package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRegister_Handlers(t *testing.T) {
	type want struct {
		code int
		body string
	}
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	tests := []struct {
		name   string
		pinger Pinger
		path   string
		want   want
	}{
		{name: "healthz ok", pinger: up, path: "/healthz", want: want{code: http.StatusOK, body: "ok"}},
		{name: "healthz ignores store", pinger: down, path: "/healthz", want: want{code: http.StatusOK, body: "ok"}},
		{name: "readyz ok", pinger: up, path: "/readyz", want: want{code: http.StatusOK, body: "ready"}},
		{name: "readyz without pinger", pinger: nil, path: "/readyz", want: want{code: http.StatusOK, body: "ready"}},
		{name: "readyz store down", pinger: down, path: "/readyz", want: want{code: http.StatusServiceUnavailable, body: "store unavailable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			Register(mux, tt.pinger)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.want.code {
				t.Errorf("status code mismatch\n got=%#v\nwant=%#v", rec.Code, tt.want.code)
			}
			if body := rec.Body.String(); body != tt.want.body {
				t.Errorf("body mismatch\n got=%#v\nwant=%#v", body, tt.want.body)
			}
		})
	}
}
