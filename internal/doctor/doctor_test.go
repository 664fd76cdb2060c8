package doctor

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/fstool"
	"github.com/methings/brainctl/internal/httpapi"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/permission"
	"github.com/methings/brainctl/internal/shellsandbox"
	"github.com/methings/brainctl/internal/storage"
)

type noopDevice struct{}

func (noopDevice) Invoke(ctx context.Context, action string, payload map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK}, nil
}

type noopCloud struct{}

func (noopCloud) Invoke(ctx context.Context, args map[string]any, identity string) (*models.ToolResult, error) {
	return &models.ToolResult{Status: models.ToolStatusOK}, nil
}

func TestRun_AllChecksPassAgainstLiveServer(t *testing.T) {
	store := storage.NewMemoryAdapter()
	broker := permission.New(store)
	j := journal.New(store)
	fs := fstool.New(t.TempDir())
	shell := shellsandbox.New(t.TempDir())
	al, _ := audit.NewLogger(audit.Config{Enabled: false})
	d := dispatcher.New(broker, store, fs, shell, noopDevice{}, noopCloud{})
	server := httpapi.New(httpapi.Config{Store: store, Broker: broker, Dispatcher: d, Journal: j, Audit: al})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	report := Run(ts.URL, ts.Client())
	if !report.Passed {
		t.Fatalf("report did not pass: %+v", report)
	}
}
