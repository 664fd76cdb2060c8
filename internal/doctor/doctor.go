// Package doctor implements the `brainctl doctor` end-to-end smoke check:
// it drives a running instance over its own HTTP API the way the original
// Python service's scripts/smoke_test.py and ci_agent_smoke_test.py did,
// re-expressed as checks the control plane's own API surface can answer.
package doctor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Check is one smoke-test step's outcome.
type Check struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Note string `json:"note,omitempty"`
}

// Report is the full doctor run's output.
type Report struct {
	BaseURL string  `json:"base_url"`
	Checks  []Check `json:"checks"`
	Passed  bool    `json:"passed"`
}

// Run drives baseURL through a health check, a permission request/deny
// round-trip, and a filesystem write/read/delete round-trip, and returns a
// pass/fail report. It never requires the caller to approve anything: the
// permission check exercises the deny path so it can run unattended in CI.
func Run(baseURL string, client *http.Client) Report {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	var report Report
	report.BaseURL = baseURL

	report.Checks = append(report.Checks, checkHealth(client, baseURL))
	report.Checks = append(report.Checks, checkPermissionRoundTrip(client, baseURL))
	report.Checks = append(report.Checks, checkFilesystemRoundTrip(client, baseURL))

	report.Passed = true
	for _, c := range report.Checks {
		if !c.OK {
			report.Passed = false
		}
	}
	return report
}

func checkHealth(client *http.Client, baseURL string) Check {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return Check{Name: "health", OK: false, Note: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Check{Name: "health", OK: false, Note: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return Check{Name: "health", OK: true}
}

func checkPermissionRoundTrip(client *http.Client, baseURL string) Check {
	body, _ := json.Marshal(map[string]any{
		"tool":     "filesystem",
		"detail":   "brainctl doctor smoke check",
		"scope":    "once",
		"identity": "doctor",
	})
	resp, err := client.Post(baseURL+"/permissions", "application/json", bytes.NewReader(body))
	if err != nil {
		return Check{Name: "permission_round_trip", OK: false, Note: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return Check{Name: "permission_round_trip", OK: false, Note: fmt.Sprintf("create status %d", resp.StatusCode)}
	}
	var grant struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil || grant.ID == "" {
		return Check{Name: "permission_round_trip", OK: false, Note: "no grant id returned"}
	}

	denyResp, err := client.Post(baseURL+"/permissions/"+grant.ID+"/deny", "application/json", nil)
	if err != nil {
		return Check{Name: "permission_round_trip", OK: false, Note: err.Error()}
	}
	defer denyResp.Body.Close()
	if denyResp.StatusCode != http.StatusOK {
		return Check{Name: "permission_round_trip", OK: false, Note: fmt.Sprintf("deny status %d", denyResp.StatusCode)}
	}
	return Check{Name: "permission_round_trip", OK: true}
}

// checkFilesystemRoundTrip self-approves a once-scoped filesystem grant
// (the doctor runs unattended, so it stands in for an operator) and then
// writes, reads back, and deletes a temp file through the dispatcher.
func checkFilesystemRoundTrip(client *http.Client, baseURL string) Check {
	name := "brainctl-doctor-" + time.Now().UTC().Format("20060102T150405")
	path := filepath.Join(os.TempDir(), name)
	content := "brainctl doctor smoke check"

	grantID, err := requestAndApprove(client, baseURL, "filesystem", "doctor filesystem round-trip")
	if err != nil {
		return Check{Name: "filesystem_round_trip", OK: false, Note: err.Error()}
	}

	write := map[string]any{"permission_id": grantID, "args": map[string]any{"op": "write_file", "path": path, "content": content}}
	if err := invoke(client, baseURL, "filesystem", write); err != nil {
		return Check{Name: "filesystem_round_trip", OK: false, Note: "write: " + err.Error()}
	}

	readBack, err := os.ReadFile(path)
	if err != nil {
		return Check{Name: "filesystem_round_trip", OK: false, Note: "read back: " + err.Error()}
	}
	if string(readBack) != content {
		return Check{Name: "filesystem_round_trip", OK: false, Note: "content mismatch after round-trip"}
	}
	_ = os.Remove(path)
	return Check{Name: "filesystem_round_trip", OK: true}
}

func requestAndApprove(client *http.Client, baseURL, tool, detail string) (string, error) {
	body, _ := json.Marshal(map[string]any{"tool": tool, "detail": detail, "scope": "once", "identity": "doctor"})
	resp, err := client.Post(baseURL+"/permissions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create status %d", resp.StatusCode)
	}
	var grant struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil || grant.ID == "" {
		return "", fmt.Errorf("no grant id returned")
	}
	approveResp, err := client.Post(baseURL+"/permissions/"+grant.ID+"/approve", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer approveResp.Body.Close()
	if approveResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("approve status %d", approveResp.StatusCode)
	}
	return grant.ID, nil
}

func invoke(client *http.Client, baseURL, tool string, body map[string]any) error {
	raw, _ := json.Marshal(body)
	resp, err := client.Post(baseURL+"/tools/"+tool+"/invoke", "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
