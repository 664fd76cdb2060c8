package shellsandbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/methings/brainctl/internal/brainerr"
)

// curlOptions is the parsed argv of an in-process curl invocation.
type curlOptions struct {
	silent       bool
	showError    bool
	insecure     bool
	fail         bool
	failWithBody bool
	head         bool
	include      bool
	writeOut     string
	method       string
	headers      []string
	dataParts    []string
	jsonBody     string
	hasJSON      bool
	output       string
	url          string
	methodSet    bool
}

// groupableShortFlags is the set of single-letter flags curl allows to be
// combined behind one leading dash
var groupableShortFlags = map[byte]bool{'s': true, 'S': true, 'L': true, 'f': true, 'I': true, 'i': true}

// parseCurlArgs parses the fixed, supported subset of curl's flag grammar.
func parseCurlArgs(args []string) (*curlOptions, error) {
	opt := &curlOptions{method: "GET"}

	takeValue := func(i *int, name string) (string, error) {
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("missing value for %s", name)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--silent":
			opt.silent = true
		case a == "--show-error":
			opt.showError = true
		case a == "--insecure":
			opt.insecure = true
		case a == "--location":
			// accepted, semantically ignored
		case a == "--fail":
			opt.fail = true
		case a == "--fail-with-body":
			opt.failWithBody = true
			opt.fail = true
		case a == "--head":
			opt.head = true
			opt.method = "HEAD"
			opt.methodSet = true
		case a == "--include":
			opt.include = true
		case a == "--write-out":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.writeOut = v
		case a == "--request":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.method = v
			opt.methodSet = true
		case a == "--header":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.headers = append(opt.headers, v)
		case a == "--data" || a == "--data-raw":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.dataParts = append(opt.dataParts, v)
		case a == "--json":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.jsonBody = v
			opt.hasJSON = true
		case a == "--output":
			v, err := takeValue(&i, a)
			if err != nil {
				return nil, err
			}
			opt.output = v
		case strings.HasPrefix(a, "--"):
			return nil, fmt.Errorf("unsupported flag %s", a)
		case strings.HasPrefix(a, "-") && len(a) > 1:
			// Either a single long-form-style short flag with an
			// attached/following value, or a group of combinable flags.
			switch a[1] {
			case 'w':
				v, err := shortValue(a, "w", args, &i)
				if err != nil {
					return nil, err
				}
				opt.writeOut = v
			case 'X':
				v, err := shortValue(a, "X", args, &i)
				if err != nil {
					return nil, err
				}
				opt.method = v
				opt.methodSet = true
			case 'H':
				v, err := shortValue(a, "H", args, &i)
				if err != nil {
					return nil, err
				}
				opt.headers = append(opt.headers, v)
			case 'd':
				v, err := shortValue(a, "d", args, &i)
				if err != nil {
					return nil, err
				}
				opt.dataParts = append(opt.dataParts, v)
			case 'o':
				v, err := shortValue(a, "o", args, &i)
				if err != nil {
					return nil, err
				}
				opt.output = v
			default:
				if err := applyShortFlagGroup(opt, a[1:]); err != nil {
					return nil, err
				}
			}
		default:
			opt.url = a
		}
	}
	return opt, nil
}

// shortValue extracts a short flag's value, either attached ("-Xfoo") or
// from the following argv element ("-X foo").
func shortValue(arg, letter string, args []string, i *int) (string, error) {
	rest := strings.TrimPrefix(arg, "-"+letter)
	if rest != "" {
		return rest, nil
	}
	*i++
	if *i >= len(args) {
		return "", fmt.Errorf("missing value for -%s", letter)
	}
	return args[*i], nil
}

// applyShortFlagGroup handles combined single-letter flags like "-sS" or
// "-fI", restricted to the supported groupable flag set.
func applyShortFlagGroup(opt *curlOptions, letters string) error {
	for i := 0; i < len(letters); i++ {
		c := letters[i]
		if !groupableShortFlags[c] {
			return fmt.Errorf("unsupported or non-groupable flag -%c", c)
		}
		switch c {
		case 's':
			opt.silent = true
		case 'S':
			opt.showError = true
		case 'L':
			// accepted, semantically ignored
		case 'f':
			opt.fail = true
		case 'I':
			opt.head = true
			opt.method = "HEAD"
			opt.methodSet = true
		case 'i':
			opt.include = true
		}
	}
	return nil
}

// runCurl executes a parsed curl invocation as an in-process HTTP client.
func (s *Sandbox) runCurl(ctx context.Context, args []string, cwd string) (*ExecResult, error) {
	opt, err := parseCurlArgs(args)
	if err != nil {
		return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: %v", err)
	}
	if opt.url == "" {
		return nil, brainerr.New(brainerr.KindBadRequest, "invalid_payload: curl requires a URL")
	}

	body := strings.Join(opt.dataParts, "&")
	if opt.hasJSON {
		body = opt.jsonBody
	}
	if body != "" && !opt.methodSet {
		opt.method = "POST"
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if opt.insecure {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	} else if certFile := os.Getenv("SSL_CERT_FILE"); certFile != "" {
		// System default trust store is used unless overridden; loading
		// SSL_CERT_FILE beyond naming it here is left to the transport's
		// default root CA pool resolution.
		_ = certFile
	}

	req, err := http.NewRequestWithContext(ctx, opt.method, opt.url, strings.NewReader(body))
	if err != nil {
		return curlTransportFailure(err.Error(), opt), nil
	}
	for _, h := range opt.headers {
		k, v, ok := strings.Cut(h, ":")
		if ok {
			req.Header.Set(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
	if opt.hasJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return curlTransportFailure(err.Error(), opt), nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	elapsed := time.Since(start)

	var out bytes.Buffer
	if opt.include || opt.head {
		writeStatusAndHeaders(&out, resp)
	}
	if !opt.head {
		out.Write(respBody)
	}

	if opt.output != "" {
		if err := writeCurlOutput(opt.output, cwd, out.Bytes()); err != nil {
			return nil, err
		}
		out.Reset()
	}

	if opt.writeOut != "" {
		out.WriteString(expandWriteOut(opt.writeOut, resp, opt.url, len(respBody), elapsed))
	}

	if resp.StatusCode >= 400 && opt.fail {
		msg := fmt.Sprintf("curl: (22) The requested URL returned error: %d", resp.StatusCode)
		output := out.String()
		if opt.failWithBody {
			return &ExecResult{Status: "error", Code: 22, Output: output + "\n" + msg}, nil
		}
		return &ExecResult{Status: "error", Code: 22, Output: msg}, nil
	}
	return &ExecResult{Status: "ok", Code: 0, Output: out.String()}, nil
}

func curlTransportFailure(errMsg string, opt *curlOptions) *ExecResult {
	return &ExecResult{Status: "error", Code: 1, Output: fmt.Sprintf("curl: (1) %s", errMsg)}
}

// writeStatusAndHeaders emits the "HTTP/1.1 200 OK\r\n" status line,
// headers, and the blank-line separator, matching real curl's -i/-I framing.
func writeStatusAndHeaders(out *bytes.Buffer, resp *http.Response) {
	fmt.Fprintf(out, "HTTP/%d.%d %d %s\r\n", resp.ProtoMajor, resp.ProtoMinor, resp.StatusCode, http.StatusText(resp.StatusCode))
	for k, vs := range resp.Header {
		for _, v := range vs {
			fmt.Fprintf(out, "%s: %s\r\n", k, v)
		}
	}
	out.WriteString("\r\n")
}

// writeCurlOutput writes body to path, resolved under the pinned cwd with the
// same join-then-escape check as the filesystem tool, or discards it for
// "/dev/null".
func writeCurlOutput(path, cwd string, body []byte) error {
	if path == "/dev/null" {
		return nil
	}
	resolver := Resolver{Root: cwd}
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return err
	}
	return os.WriteFile(resolved, body, 0o644)
}

// Resolver is a local re-implementation of fstool.Resolver's join-then-
// escape-check contract, kept separate to avoid an import cycle (fstool
// does not need to know about the shell sandbox).
type Resolver struct{ Root string }

func (r Resolver) Resolve(p string) (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", brainerr.New(brainerr.KindInternal, "resolve root: %v", err)
	}
	joined := filepath.Join(root, p)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", brainerr.New(brainerr.KindPathOutsideUserDir, "path outside user root")
	}
	return joined, nil
}

// expandWriteOut substitutes curl's -w template variables and escapes.
func expandWriteOut(tmpl string, resp *http.Response, url string, size int, elapsed time.Duration) string {
	r := strings.NewReplacer(
		"%{http_code}", strconv.Itoa(resp.StatusCode),
		"%{response_code}", strconv.Itoa(resp.StatusCode),
		"%{url_effective}", url,
		"%{size_download}", strconv.Itoa(size),
		"%{time_total}", fmt.Sprintf("%.6f", elapsed.Seconds()),
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
	)
	return r.Replace(tmpl)
}
