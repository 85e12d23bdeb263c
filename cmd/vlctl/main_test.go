package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	jwtpkg "github.com/jrmce/VersionLifecycle-sub000/pkg/jwt"
)

func testCLI(t *testing.T, stdin string) *cli {
	t.Helper()
	t.Setenv("VLCTL_API", "")
	t.Setenv("VLCTL_TOKEN", "")
	t.Setenv("JWT_SECRET", "")
	path := filepath.Join(t.TempDir(), "config.json")
	c := &cli{
		configPath: func() (string, error) { return path, nil },
		stdin:      strings.NewReader(stdin),
	}
	c.readSecret = c.promptSecret
	return c
}

func run(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenMintSignsScopedToken(t *testing.T) {
	c := testCLI(t, "")
	out, err := run(t, c, "token", "mint", "--user", "7", "--tenant", "3", "--secret", "s3cret")
	require.NoError(t, err)

	claims, err := jwtpkg.Parse(strings.TrimSpace(out), "s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, int64(3), claims.TenantID)
}

func TestTokenMintRequiresTenantForMembers(t *testing.T) {
	c := testCLI(t, "")
	_, err := run(t, c, "token", "mint", "--user", "7", "--secret", "s3cret")
	require.Error(t, err)

	out, err := run(t, c, "token", "mint", "--user", "7", "--role", "operator", "--secret", "s3cret")
	require.NoError(t, err)
	claims, err := jwtpkg.Parse(strings.TrimSpace(out), "s3cret")
	require.NoError(t, err)
	require.Equal(t, jwtpkg.RoleOperator, claims.Role)
}

func TestTokenMintReadsSecretFromStdin(t *testing.T) {
	c := testCLI(t, "piped-secret\n")
	out, err := run(t, c, "token", "mint", "--user", "1", "--tenant", "1")
	require.NoError(t, err)
	_, err = jwtpkg.Parse(strings.TrimSpace(out), "piped-secret")
	require.NoError(t, err)
}

func TestLoginSavesTokenForLaterCommands(t *testing.T) {
	var seenAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		require.Equal(t, "/deployments/dep-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"Pending"}`))
	}))
	defer srv.Close()

	c := testCLI(t, "saved-token\n")
	out, err := run(t, c, "login", "--api", srv.URL)
	require.NoError(t, err)
	require.Contains(t, out, "login saved")

	c.apiBase, c.token = "", ""
	out, err = run(t, c, "deploy", "get", "dep-1")
	require.NoError(t, err)
	require.Equal(t, "Bearer saved-token", seenAuth)

	var deployment map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &deployment))
	require.Equal(t, "Pending", deployment["status"])
}

func TestDeployCommandsRequireLogin(t *testing.T) {
	c := testCLI(t, "")
	_, err := run(t, c, "deploy", "list")
	require.ErrorContains(t, err, "vlctl login")
}

func TestDeployStatusSendsDurationAndNotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deployments/dep-1/status", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Success", body["status"])
		require.EqualValues(t, 90000, body["duration_ms"])
		require.Equal(t, "", body["notes"])
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"Success","duration_ms":90000}`))
	}))
	defer srv.Close()

	c := testCLI(t, "")
	_, err := run(t, c, "--api", srv.URL, "--token", "tok",
		"deploy", "status", "dep-1", "--status", "Success", "--duration", "90s", "--notes", "")
	require.NoError(t, err)
}

func TestDeployConfirmOmitsNotesUnlessGiven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Nil(t, body["notes"])
		_, _ = w.Write([]byte(`{"id":"dep-1","status":"InProgress"}`))
	}))
	defer srv.Close()

	c := testCLI(t, "")
	out, err := run(t, c, "--api", srv.URL, "--token", "tok", "deploy", "confirm", "dep-1")
	require.NoError(t, err)
	require.Contains(t, out, "InProgress")
}

func TestWebhookDeliveriesPrintsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/webhooks/4/deliveries", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":11,"event_type":"deployment.success","delivery_status":"Failed","response_status_code":502,"retry_count":2}]`))
	}))
	defer srv.Close()

	c := testCLI(t, "")
	out, err := run(t, c, "--api", srv.URL, "--token", "tok", "webhook", "deliveries", "4")
	require.NoError(t, err)
	require.Contains(t, out, "11\tdeployment.success\tFailed\tcode=502\tretries=2")

	_, err = run(t, c, "--api", srv.URL, "--token", "tok", "webhook", "deliveries", "abc")
	require.ErrorContains(t, err, "invalid id")
}
