package shellsandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExec_CommandNotAllowed(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Exec(context.Background(), "rm", []string{"-rf", "/"}, ""); err == nil {
		t.Fatal("expected command_not_allowed")
	}
}

func TestExec_RejectsControlCharsInArgs(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Exec(context.Background(), "python", []string{"-c", "print(1)\nrm -rf /"}, ""); err == nil {
		t.Fatal("expected unsafe_argument rejection for embedded newline")
	}
}

func TestExec_AllowsCurlURLWithAmpersand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.RawQuery))
	}))
	defer srv.Close()

	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "curl", []string{"-s", srv.URL + "/?a=1&b=2"}, "")
	if err != nil {
		t.Fatalf("unexpected rejection of a legitimate query string: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("status = %q", res.Status)
	}
}

func TestCurl_WriteOutAndExitCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(404)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	s := New(t.TempDir())

	res, err := s.Exec(context.Background(), "curl", []string{"-s", "-o", "/dev/null", "-w", "%{http_code}", srv.URL}, "")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Output != "200" || res.Code != 0 {
		t.Fatalf("result = %+v", res)
	}

	res2, err := s.Exec(context.Background(), "curl", []string{"--fail", srv.URL + "/missing"}, "")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res2.Code != 22 {
		t.Fatalf("expected exit 22, got %+v", res2)
	}
}

func TestCurl_IncludeMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "curl", []string{"-sS", "-i", srv.URL}, "")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Code != 0 {
		t.Fatalf("expected exit 0, got %+v", res)
	}
	if len(res.Output) < len("HTTP/1.1 200") {
		t.Fatalf("expected status line in output, got %q", res.Output)
	}
}

func TestParseCurlArgs_GroupedFlags(t *testing.T) {
	opt, err := parseCurlArgs([]string{"-sSfI", "http://example.test"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !opt.silent || !opt.showError || !opt.fail || !opt.head {
		t.Fatalf("opt = %+v", opt)
	}
	if opt.method != "HEAD" {
		t.Fatalf("method = %s, want HEAD", opt.method)
	}
}

func TestParseCurlArgs_DataUpgradesToPost(t *testing.T) {
	opt, err := parseCurlArgs([]string{"-d", "a=1", "http://example.test"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opt.method != "GET" {
		t.Fatalf("method should remain GET until upgrade decision in runCurl, got %s", opt.method)
	}
	if len(opt.dataParts) != 1 || opt.dataParts[0] != "a=1" {
		t.Fatalf("dataParts = %+v", opt.dataParts)
	}
}

func TestPip_DropsAmbiguousPackage(t *testing.T) {
	args, note := sanitizeInstallArgs([]string{"install", "pyuvc", "uvc"})
	if note == "" {
		t.Fatal("expected a note about the dropped ambiguous package")
	}
	for _, a := range args {
		if a == "uvc" {
			t.Fatalf("expected ambiguous package to be dropped, got args=%v", args)
		}
	}
}
