package blobstore

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Provider describes an S3-compatible service.
type Provider struct {
	Name             string
	DefaultEndpoint  string
	DefaultRegion    string
	EndpointTemplate string // fmt template taking the region
	PathStyle        bool
}

// Providers lists the S3-compatible services blobs can be kept in.
var Providers = map[string]Provider{
	"aws": {
		Name:            "AWS S3",
		DefaultEndpoint: "https://s3.amazonaws.com",
		DefaultRegion:   "us-east-1",
	},
	"minio": {
		Name:            "MinIO",
		DefaultEndpoint: "http://localhost:9000",
		DefaultRegion:   "us-east-1",
		PathStyle:       true,
	},
	"wasabi": {
		Name:             "Wasabi",
		DefaultEndpoint:  "https://s3.wasabisys.com",
		DefaultRegion:    "us-east-1",
		EndpointTemplate: "https://s3.%s.wasabisys.com",
	},
	"backblaze": {
		Name:             "Backblaze B2",
		DefaultEndpoint:  "https://s3.us-west-000.backblazeb2.com",
		DefaultRegion:    "us-west-000",
		EndpointTemplate: "https://s3.%s.backblazeb2.com",
		PathStyle:        true,
	},
	"digitalocean": {
		Name:             "DigitalOcean Spaces",
		DefaultEndpoint:  "https://nyc3.digitaloceanspaces.com",
		DefaultRegion:    "nyc3",
		EndpointTemplate: "https://%s.digitaloceanspaces.com",
	},
	"cloudflare": {
		Name:          "Cloudflare R2",
		DefaultRegion: "auto",
	},
}

// ResolveProvider fills in endpoint and region defaults for provider and
// validates the endpoint.
func ResolveProvider(provider, endpoint, region string) (string, string, error) {
	p, ok := Providers[strings.ToLower(provider)]
	if !ok {
		return "", "", fmt.Errorf("unknown blob store provider %q (supported: %s)", provider, strings.Join(providerNames(), ", "))
	}
	if region == "" {
		region = p.DefaultRegion
	}
	if endpoint == "" {
		if p.EndpointTemplate != "" && region != p.DefaultRegion {
			endpoint = fmt.Sprintf(p.EndpointTemplate, region)
		} else {
			endpoint = p.DefaultEndpoint
		}
	}
	if endpoint == "" {
		return "", "", fmt.Errorf("provider %s requires an explicit endpoint", p.Name)
	}
	endpoint = normalizeEndpoint(endpoint)
	if err := validateEndpoint(endpoint); err != nil {
		return "", "", err
	}
	return endpoint, region, nil
}

// RequiresPathStyle reports whether provider needs path-style addressing.
func RequiresPathStyle(provider string) bool {
	return Providers[strings.ToLower(provider)].PathStyle
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return strings.TrimSuffix(endpoint, "/")
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a hostname")
	}
	return nil
}

func providerNames() []string {
	names := make([]string, 0, len(Providers))
	for name := range Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
