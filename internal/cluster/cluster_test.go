package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func metadataServer(t *testing.T, values map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata-Flavor") != gcpMetadataFlavor {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Metadata-Flavor", gcpMetadataFlavor)
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		v, ok := values[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(v))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGKEResolve(t *testing.T) {
	server := metadataServer(t, map[string]string{
		"/instance/attributes/cluster-name": "prod-main",
		"/project/project-id":               "acme-prod",
		"/instance/zone":                    "projects/123456789/zones/us-central1-a",
	})

	gke := newGKEMetadata(&http.Client{Timeout: 2 * time.Second}, server.URL)
	require.True(t, gke.detect(context.Background()))

	id, err := gke.resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gcp/acme-prod/us-central1/prod-main", id.ID)
	assert.Equal(t, "prod-main", id.Name)
	assert.Equal(t, "us-central1", id.Region)
	assert.Equal(t, "acme-prod", id.ProjectID)
}

func TestGKEResolve_MissingClusterName(t *testing.T) {
	server := metadataServer(t, map[string]string{
		"/project/project-id": "acme-prod",
	})

	gke := newGKEMetadata(&http.Client{Timeout: 2 * time.Second}, server.URL)
	_, err := gke.resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster-name")
}

func TestGKEDetect_NotMetadataService(t *testing.T) {
	// 200 without the flavor header must not count as a detection.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	gke := newGKEMetadata(&http.Client{Timeout: 2 * time.Second}, server.URL)
	assert.False(t, gke.detect(context.Background()))
}

func TestResolver_NothingDetected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	r := &Resolver{providers: []provider{
		newGKEMetadata(&http.Client{Timeout: 2 * time.Second}, server.URL),
	}}
	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestRegionOfZone(t *testing.T) {
	assert.Equal(t, "us-central1", regionOfZone("us-central1-a"))
	assert.Equal(t, "europe-west1", regionOfZone("europe-west1-b"))
	assert.Equal(t, "local", regionOfZone("local"))
}
