package cli

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"RELIANCE-1b4e28ba", "RELIANCE-1b4e28ba"},
		{"a/b\\c:d", "a_b_c_d"},
		{"q4 results?", "q4-results_"},
		{"..", "report"},
		{"", "report"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
	assert.Len(t, sanitizeFilename(string(make([]byte, 300))), 100)
}

func TestReportName(t *testing.T) {
	res := &pipeline.Result{Document: model.Document{ID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"}}
	assert.Equal(t, "1b4e28ba", reportName(res))

	res.EntityID = "TCS"
	assert.Equal(t, "TCS-1b4e28ba", reportName(res))
}

func TestRenderDefaultConfig(t *testing.T) {
	data, err := renderDefaultConfig()
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Credible configuration")
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), "postgres_dsn")

	cfg := model.DefaultConfig()
	require.NoError(t, yaml.Unmarshal(data, cfg))
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, model.DefaultConfig().Scoring, cfg.Scoring)
}

func TestApplyLLMFlags(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	defer func() { llmProvider, llmModel = "", "" }()

	cfg := model.DefaultConfig()
	applyLLMFlags(cfg)
	assert.Empty(t, cfg.LLM.Provider)

	llmProvider, llmModel = "openai", "gpt-4o"
	applyLLMFlags(cfg)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.LLM.StrictEvidence)
	assert.NoError(t, cfg.Validate())
}

type countingRefresher struct {
	calls chan struct{}
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.calls <- struct{}{}
	return c.err
}

func TestRefreshOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	r := &countingRefresher{calls: make(chan struct{}, 2), err: errors.New("registry file missing")}

	done := make(chan struct{})
	go func() {
		refreshOnSignal(ctx, sig, r)
		close(done)
	}()

	// a failed refresh keeps the loop alive for the next signal
	for range 2 {
		sig <- syscall.SIGHUP
		select {
		case <-r.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("refresh not called")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refreshOnSignal did not return after cancel")
	}
}
