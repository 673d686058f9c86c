package cluster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

const (
	gcpMetadataBase   = "http://metadata.google.internal/computeMetadata/v1"
	gcpMetadataFlavor = "Google"
)

// gkeMetadata reads the GCE metadata service a GKE node exposes to its pods.
type gkeMetadata struct {
	client  *http.Client
	baseURL string
}

func newGKEMetadata(client *http.Client, baseURL string) *gkeMetadata {
	return &gkeMetadata{client: client, baseURL: baseURL}
}

// detect probes the metadata root. The real service always answers 200 with a
// Metadata-Flavor: Google header, which keeps impostors on the same address
// from passing.
func (g *gkeMetadata) detect(ctx context.Context) bool {
	resp, err := g.get(ctx, "/")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK &&
		resp.Header.Get("Metadata-Flavor") == gcpMetadataFlavor
}

func (g *gkeMetadata) resolve(ctx context.Context) (Identity, error) {
	clusterName, err := g.value(ctx, "/instance/attributes/cluster-name")
	if err != nil {
		return Identity{}, fmt.Errorf("reading cluster-name: %w", err)
	}
	projectID, err := g.value(ctx, "/project/project-id")
	if err != nil {
		return Identity{}, fmt.Errorf("reading project-id: %w", err)
	}
	zone, err := g.value(ctx, "/instance/zone")
	if err != nil {
		return Identity{}, fmt.Errorf("reading zone: %w", err)
	}

	// The zone value is projects/<number>/zones/<zone>; the region is the
	// zone minus its single-letter suffix.
	region := regionOfZone(path.Base(zone))

	return Identity{
		ID:        fmt.Sprintf("gcp/%s/%s/%s", projectID, region, clusterName),
		Name:      clusterName,
		Region:    region,
		ProjectID: projectID,
	}, nil
}

func (g *gkeMetadata) value(ctx context.Context, p string) (string, error) {
	resp, err := g.get(ctx, p)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata request for %s returned status %d", p, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (g *gkeMetadata) get(ctx context.Context, p string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+p, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", gcpMetadataFlavor)
	return g.client.Do(req)
}

func regionOfZone(zone string) string {
	if i := strings.LastIndex(zone, "-"); i >= 0 {
		return zone[:i]
	}
	return zone
}
