//go:build unix

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/auditbox/config"
	"github.com/isdmx/auditbox/engine"
	"github.com/isdmx/auditbox/httpserver"
	"github.com/isdmx/auditbox/logger"
	"github.com/isdmx/auditbox/report"
	"github.com/isdmx/auditbox/sandbox"
)

const structuredOutput = `{"success":true,"error":null,"results":{"detectors":[` +
	`{"check":"reentrancy-eth","impact":"High","confidence":"Medium","description":"Reentrancy in Vault.withdraw()",` +
	`"elements":[{"type":"function","name":"withdraw","source_mapping":{"filename_relative":"contracts/Vault.sol","lines":[12,13]}}]},` +
	`{"check":"solc-version","impact":"Informational","confidence":"High","description":"Pragma version too recent","elements":[]}]}}`

// integrationEnv wires config file, logger, selector, runner, engine and
// REST router the way cmd/server does, with a shell script as the analyzer
type integrationEnv struct {
	server *httptest.Server
	root   string
}

func newIntegrationEnv(t *testing.T, analyzerBody string) *integrationEnv {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("sh not available: %v", err)
	}

	dir := t.TempDir()
	root := filepath.Join(dir, "scratch")
	analyzer := filepath.Join(dir, "fake-analyzer")
	require.NoError(t, os.WriteFile(analyzer, []byte("#!/bin/sh\n"+analyzerBody+"\n"), 0o755)) //nolint:gosec // test executable

	configPath := filepath.Join(dir, "auditbox.yaml")
	content := fmt.Sprintf(`
sandbox:
  strategy: local
  allow_unsandboxed: true
  local_timeout_sec: 10
  container_timeout_sec: 10
analyzer:
  binary: %s
workspace:
  root: %s
logging:
  mode: development
  level: debug
`, analyzer, root)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	// Logger construction from config must succeed; tests log through zaptest
	_, err = logger.NewFromConfig(cfg)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)

	selector, err := sandbox.NewSelector(log, cfg)
	require.NoError(t, err)
	eng := engine.New(log, cfg, selector, sandbox.NewRunner(log, cfg))

	srv := httptest.NewServer(httpserver.NewRouter(log, cfg, eng))
	t.Cleanup(srv.Close)

	return &integrationEnv{server: srv, root: root}
}

func (e *integrationEnv) requireNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.root)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func uploadArchive(t *testing.T, url, filename string, data []byte) (*http.Response, report.Report) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/audit", mw.FormDataContentType(), &body) //nolint:noctx // test request
	require.NoError(t, err)
	defer resp.Body.Close()

	var rep report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	return resp, rep
}

func TestIntegrationArchiveAudit(t *testing.T) {
	t.Run("StructuredFindings", func(t *testing.T) {
		env := newIntegrationEnv(t, `
test -f "$1/contracts/Vault.sol" || { echo "missing input" >&2; exit 2; }
cat <<'JSON'
`+structuredOutput+`
JSON
exit 1`)

		resp, rep := uploadArchive(t, env.server.URL, "bundle.zip", zipArchive(t, map[string]string{
			"contracts/Vault.sol": "contract Vault {}",
			"contracts/lib/Math.sol": "library Math {}",
			"README.md":             "# docs",
		}))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(httpserver.RequestIDHeader))
		require.True(t, rep.Success)
		assert.Equal(t, []string{"contracts/Vault.sol", "contracts/lib/Math.sol"}, rep.FilesAnalyzed)
		require.Len(t, rep.Vulnerabilities, 2)
		assert.Equal(t, "reentrancy-eth", rep.Vulnerabilities[0].ID)
		assert.Equal(t, report.SeverityHigh, rep.Vulnerabilities[0].Severity)
		assert.Equal(t, 2, rep.Summary.Total)
		assert.Equal(t, 1, rep.Summary.BySeverity["high"])
		assert.Equal(t, 1, rep.Summary.BySeverity["informational"])
		assert.Equal(t, 0, rep.Summary.BySeverity["medium"])

		require.NotNil(t, rep.Execution)
		assert.Equal(t, string(sandbox.StrategyLocal), rep.Execution.Strategy)
		assert.False(t, rep.Execution.Sandboxed)
		assert.Equal(t, report.ProvenanceStructured, rep.Execution.Provenance)
		assert.Equal(t, 1, rep.Execution.ExitCode)

		env.requireNoWorkspaces(t)
	})

	t.Run("HeuristicFindings", func(t *testing.T) {
		env := newIntegrationEnv(t, `echo "Compilation warnings:"
echo "Token.transfer uses a HIGH risk pattern"
echo "done"`)

		resp, rep := uploadArchive(t, env.server.URL, "bundle.zip", zipArchive(t, map[string]string{
			"Token.sol": "contract Token {}",
		}))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, rep.Success)
		require.Len(t, rep.Vulnerabilities, 1)
		assert.Equal(t, "raw_0", rep.Vulnerabilities[0].ID)
		assert.Equal(t, report.SeverityHigh, rep.Vulnerabilities[0].Severity)
		assert.Equal(t, report.ProvenanceHeuristic, rep.Execution.Provenance)
		assert.True(t, strings.HasPrefix(rep.RawOutput, "Compilation warnings:"))

		env.requireNoWorkspaces(t)
	})

	t.Run("ArchiveWithoutSources", func(t *testing.T) {
		env := newIntegrationEnv(t, `echo "should not run" >&2; exit 3`)

		resp, rep := uploadArchive(t, env.server.URL, "docs.zip", zipArchive(t, map[string]string{
			"README.md": "# nothing to analyze",
		}))

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.False(t, rep.Success)
		assert.Equal(t, "no source files found", rep.Error)

		env.requireNoWorkspaces(t)
	})
}

func TestIntegrationSourceAudit(t *testing.T) {
	env := newIntegrationEnv(t, `test -f "$1/Token.sol" && echo "Token: medium severity issue"`)

	resp, err := http.Post(env.server.URL+"/audit/source", "application/json", //nolint:noctx // test request
		strings.NewReader(`{"source_code":"contract Token {}","contract_name":"Token"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rep report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Token.sol"}, rep.FilesAnalyzed)
	require.Len(t, rep.Vulnerabilities, 1)
	assert.Equal(t, report.SeverityMedium, rep.Vulnerabilities[0].Severity)

	env.requireNoWorkspaces(t)
}
