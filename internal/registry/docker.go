package registry

import (
	"context"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

type distributionInspector interface {
	DistributionInspect(ctx context.Context, imageRef, encodedRegistryAuth string) (registry.DistributionInspect, error)
}

// DockerClient resolves digests through the local Docker daemon, which queries
// the registry with its own network path and credentials.
type DockerClient struct {
	api  distributionInspector
	auth string
}

func NewDockerClient(username, password, serverAddress string) (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	var auth string
	if username != "" || password != "" {
		auth, err = registry.EncodeAuthConfig(registry.AuthConfig{
			Username:      username,
			Password:      password,
			ServerAddress: serverAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("encode registry auth: %w", err)
		}
	}
	return &DockerClient{api: cli, auth: auth}, nil
}

func (c *DockerClient) ManifestDigest(ctx context.Context, repository, ref string) (string, error) {
	log := zerolog.Ctx(ctx)
	imageRef := imageReference(repository, ref)
	log.Debug().Str("image", imageRef).Msg("inspecting distribution via docker daemon")
	res, err := c.api.DistributionInspect(ctx, imageRef, c.auth)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", notFound(repository, ref, err)
		}
		return "", transient(repository, ref, err)
	}
	return res.Descriptor.Digest.String(), nil
}

func imageReference(repository, ref string) string {
	repo := strings.TrimSpace(repository)
	if i := strings.Index(repo, "://"); i >= 0 {
		repo = repo[i+3:]
	}
	repo = strings.Trim(repo, "/")
	if IsDigest(ref) {
		return repo + "@" + ref
	}
	return repo + ":" + ref
}
