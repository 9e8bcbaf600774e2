package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerClient abstracts the Docker SDK methods used by the backends,
// enabling mock-based testing without a real Docker daemon.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// EnsureImage pulls ref unless the daemon already has it.
func EnsureImage(ctx context.Context, docker DockerClient, ref string, log *slog.Logger) error {
	list, err := RetryResult(3, func() ([]image.Summary, error) {
		return docker.ImageList(ctx, image.ListOptions{
			Filters: filters.NewArgs(filters.Arg("reference", ref)),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list docker images: %w", err)
	}

	if len(list) > 0 {
		log.Debug("Image already present", "image", ref)
		return nil
	}

	log.Info("Pulling image", "image", ref)
	reader, err := RetryResult(4, func() (io.ReadCloser, error) {
		return docker.ImagePull(ctx, ref, image.PullOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to pull docker image '%s': %w", ref, err)
	}
	defer reader.Close()

	// the pull only completes once its progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull docker image '%s': %w", ref, err)
	}
	return nil
}
