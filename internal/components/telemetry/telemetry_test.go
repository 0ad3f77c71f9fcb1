package telemetry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecordingAPI()
	scoped := NewScopedAPI("auth", rec)
	scoped.ReportBroken("service.login", "boom")
	scoped.ReportCount("service.logins", 2)

	broken := rec.Reports("broken")
	require.Len(t, broken, 1)
	require.Equal(t, "auth: service.login", broken[0].Id)
	require.Equal(t, []any{"boom"}, broken[0].Params)

	counts := rec.Reports("count")
	require.Len(t, counts, 1)
	require.Equal(t, []any{int64(2)}, counts[0].Params)
}

func TestRedacted(t *testing.T) {
	require.Equal(t, "<empty>", Redacted(""))
	require.Equal(t, "<redacted:6>", Redacted("hunter"))
}

func TestRedactForm(t *testing.T) {
	out := redactForm("usrname=jane&pass=hunter2&APPNAME=CampusNet")
	require.NotContains(t, out, "hunter2")
	require.Contains(t, out, "usrname=jane")

	require.Equal(t, "not a form;", redactForm("not a form;"))
}

func TestInstrumentRestyDumpsExchanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "cnsc", Value: "secret-session"})
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	rec := NewRecordingAPI()
	dir := filepath.Join(t.TempDir(), "dump")
	output, err := NewFilesystemOutput(dir, rec)
	require.NoError(t, err)

	client := resty.New()
	InstrumentResty(client, rec, output, nil)

	_, err = client.R().
		SetFormData(map[string]string{"usrname": "jane", "pass": "hunter2"}).
		Post(srv.URL + "/login")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "1.txt"))
	require.NoError(t, err)
	dump := string(contents)
	require.True(t, strings.HasPrefix(dump, "---- REQUEST ----"))
	require.Contains(t, dump, "<html>ok</html>")
	require.NotContains(t, dump, "hunter2")
	require.NotContains(t, dump, "secret-session")

	require.NotEmpty(t, rec.Reports("debug"))
	require.Empty(t, rec.Reports("broken"))
}
