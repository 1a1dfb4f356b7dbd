package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/hubexport/internal/config"
	"github.com/yairfalse/hubexport/internal/delivery"
	"github.com/yairfalse/hubexport/orchestrator"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTrigger_YAML(t *testing.T) {
	path := writeFile(t, "trigger.yaml", `
bucket: findings-bucket
sender_email: security@example.com
recipient_emails:
  - a@example.com
  - b@example.com
severity_filter: [CRITICAL]
subject: ""
`)

	trig, err := loadTrigger(path)
	require.NoError(t, err)
	assert.Equal(t, "findings-bucket", trig.Bucket)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, trig.RecipientEmails)
	assert.Equal(t, []string{"CRITICAL"}, trig.SeverityFilter)
	require.NotNil(t, trig.Subject)
	assert.Equal(t, "", *trig.Subject)
	assert.Nil(t, trig.BodyText)
}

func TestLoadTrigger_JSON(t *testing.T) {
	path := writeFile(t, "trigger.json", `{
		"bucket": "findings-bucket",
		"sender_email": "security@example.com",
		"recipient_emails": ["a@example.com"],
		"max_results": 20
	}`)

	trig, err := loadTrigger(path)
	require.NoError(t, err)
	assert.Equal(t, "findings-bucket", trig.Bucket)
	require.NotNil(t, trig.MaxResults)
	assert.Equal(t, int32(20), *trig.MaxResults)
}

func TestLoadTrigger_Errors(t *testing.T) {
	_, err := loadTrigger(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = loadTrigger(writeFile(t, "bad.json", `{"bucket": `))
	assert.Error(t, err)
}

func TestTriggerFlags_OverrideFile(t *testing.T) {
	var f triggerFlags
	cmdFlags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.register(cmdFlags)
	require.NoError(t, cmdFlags.Parse([]string{
		"--bucket", "override-bucket",
		"--recipient", "x@example.com,y@example.com",
		"--severity", "CRITICAL,HIGH",
		"--subject", "",
	}))

	base := orchestrator.Trigger{
		Bucket:          "file-bucket",
		SenderEmail:     "security@example.com",
		RecipientEmails: []string{"a@example.com"},
	}
	trig := f.apply(cmdFlags, base)

	assert.Equal(t, "override-bucket", trig.Bucket)
	assert.Equal(t, "security@example.com", trig.SenderEmail)
	assert.Equal(t, []string{"x@example.com", "y@example.com"}, trig.RecipientEmails)
	assert.Equal(t, []string{"CRITICAL", "HIGH"}, trig.SeverityFilter)
	require.NotNil(t, trig.Subject)
	assert.Equal(t, "", *trig.Subject)
	assert.Nil(t, trig.BodyText)
	assert.Nil(t, trig.MaxResults)
	assert.Nil(t, trig.WorkflowStatusFilter)
}

func TestWithConfigDefaults(t *testing.T) {
	cfg = config.Default()
	cfg.Pipeline.MaxResults = 40

	trig := withConfigDefaults(orchestrator.Trigger{})
	require.NotNil(t, trig.MaxResults)
	assert.Equal(t, int32(40), *trig.MaxResults)

	n := int32(5)
	trig = withConfigDefaults(orchestrator.Trigger{MaxResults: &n})
	assert.Equal(t, int32(5), *trig.MaxResults)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &orchestrator.RunResult{
		RunID:        "run-1",
		Namespace:    "2024-03-07",
		State:        orchestrator.StateDone,
		Pages:        2,
		Fetched:      150,
		Rows:         3,
		ArtifactKey:  "reports/findings_report-2024-03-07.csv",
		ArtifactSize: 2048,
		Mode:         delivery.ModeInline,
		MessageID:    "msg-1",
		Duration:     1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "run-1 (Done)")
	assert.Contains(t, out, "2 (150 findings fetched)")
	assert.Contains(t, out, "3 rows, 2.0 KiB")
	assert.Contains(t, out, "inline, message msg-1")
	assert.Contains(t, out, "1.5s")
}

func TestRootCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "resume", "daemon", "checkpoints"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}
