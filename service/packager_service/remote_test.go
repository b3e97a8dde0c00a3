package packager_service

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-packager/conf"
	"bundle-packager/model"
)

func newAgent(t *testing.T, build http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"dependencies":{"xcodebuild":true,"notarytool":false}}}`))
	})
	mux.HandleFunc("/build", build)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemotePackagerPackage(t *testing.T) {
	t.Parallel()

	var (
		mu                              sync.Mutex
		gotPlatform, gotApp, gotOptions string
		gotEntries                      []string
	)
	srv := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPlatform = r.FormValue("platform")
		gotApp = r.FormValue("appName")
		gotOptions = r.FormValue("options")

		f, header, err := r.FormFile("bundle")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		zr, err := zip.NewReader(f, header.Size)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, e := range zr.File {
			gotEntries = append(gotEntries, e.Name)
		}

		w.Header().Set("X-Artifact-Name", "../demo-1.0.0.dmg")
		_, _ = w.Write([]byte("dmg-bytes"))
	})

	p := NewRemotePackager(NewMacOSPackager(""))
	require.NoError(t, p.Initialize(conf.PlatformConfig{RemoteURL: srv.URL + "/"}))
	assert.True(t, IsRemote(p))
	assert.Equal(t, model.PlatformMacOS, p.Platform())

	req := newRequest(t, writeBundle(t, map[string]string{"js/app.js": "1"}))
	req.Options["bundle_id"] = "com.example.demo"

	log := &progressLog{}
	res, err := p.Package(context.Background(), req, log.report)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "macos", gotPlatform)
	assert.Equal(t, "demo", gotApp)
	assert.JSONEq(t, `{"bundle_id":"com.example.demo"}`, gotOptions)
	assert.ElementsMatch(t, []string{"index.html", "js/app.js"}, gotEntries)

	// the name is reduced to its base so it stays inside the output dir
	assert.Equal(t, "demo-1.0.0.dmg", res.Filename)
	assert.Equal(t, "dmg", res.Type)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "dmg-bytes", string(data))
	assert.Equal(t, 100, log.values[len(log.values)-1])
}

func TestRemotePackagerAgentError(t *testing.T) {
	t.Parallel()

	srv := newAgent(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"codesign: no identity found"}`))
	})

	p := NewRemotePackager(NewMacOSPackager(""))
	require.NoError(t, p.Initialize(conf.PlatformConfig{RemoteURL: srv.URL}))

	_, err := p.Package(context.Background(), newRequest(t, writeBundle(t, map[string]string{})), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "codesign: no identity found")
}

func TestRemotePackagerHealth(t *testing.T) {
	t.Parallel()

	srv := newAgent(t, func(w http.ResponseWriter, r *http.Request) {})
	p := NewRemotePackager(NewMacOSPackager(""))
	require.NoError(t, p.Initialize(conf.PlatformConfig{RemoteURL: srv.URL}))

	report := p.HealthCheck(context.Background())
	assert.True(t, report.Healthy)
	assert.True(t, report.Remote)

	assert.True(t, p.CheckDependency(context.Background(), "xcodebuild").Available)
	assert.False(t, p.CheckDependency(context.Background(), "notarytool").Available)

	require.Error(t, NewRemotePackager(NewMacOSPackager("")).Initialize(conf.PlatformConfig{}))
}
