package container

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stringid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"dockwatch.sh/internal/ferrors"
)

// DockerAPI is the part of the Docker Engine client the manager calls.
// *client.Client satisfies it.
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerManager implements Runtime for Docker
type DockerManager struct {
	client DockerAPI
	host   string
}

var _ Runtime = (*DockerManager)(nil)

// NewDockerManager wraps an Engine API client. host is informational and
// shows up in logs and health output.
func NewDockerManager(api DockerAPI, host string) *DockerManager {
	return &DockerManager{client: api, host: host}
}

// Host returns the daemon address this manager talks to
func (m *DockerManager) Host() string {
	return m.host
}

// Ping implements Runtime
func (m *DockerManager) Ping(ctx context.Context) error {
	if _, err := m.client.Ping(ctx); err != nil {
		return m.translate(err, "failed to ping Docker daemon at %s", m.host)
	}
	return nil
}

// ListContainers implements Runtime
func (m *DockerManager) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, m.translate(err, "failed to list containers")
	}

	images, err := m.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, m.translate(err, "failed to list images")
	}
	tags := make(map[string]string, len(images))
	for _, img := range images {
		if len(img.RepoTags) > 0 {
			tags[img.ID] = img.RepoTags[0]
		}
	}

	result := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		tag, ok := tags[c.ImageID]
		if !ok {
			tag = NoTag
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, ContainerSummary{
			ID:     stringid.TruncateID(c.ID),
			Name:   name,
			Status: dockerStateToContainerState(string(c.State)),
			Image:  tag,
		})
	}
	return result, nil
}

// ListImages implements Runtime
func (m *DockerManager) ListImages(ctx context.Context) ([]string, error) {
	images, err := m.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, m.translate(err, "failed to list images")
	}

	tags := make([]string, 0, len(images))
	for _, img := range images {
		if len(img.RepoTags) == 0 {
			continue
		}
		tags = append(tags, img.RepoTags[0])
	}
	return tags, nil
}

// InspectContainer implements Runtime
func (m *DockerManager) InspectContainer(ctx context.Context, ref string) (*ContainerInfo, error) {
	c, err := m.client.ContainerInspect(ctx, ref)
	if err != nil {
		return nil, m.translate(err, "failed to inspect container %s", ref)
	}

	info := &ContainerInfo{
		ID:    c.ID,
		Name:  strings.TrimPrefix(c.Name, "/"),
		State: ContainerStateUnknown,
	}
	if c.Config != nil {
		info.Image = c.Config.Image
	}
	if c.State != nil {
		info.State = dockerStateToContainerState(string(c.State.Status))
		info.Running = c.State.Running && !c.State.Paused && !c.State.Restarting
		info.StartedAt = c.State.StartedAt
	}

	if c.NetworkSettings != nil {
		for name, endpoint := range c.NetworkSettings.Networks {
			attachment := NetworkAttachment{Name: name}
			if endpoint != nil {
				attachment.IPAddress = endpoint.IPAddress
			}
			info.Networks = append(info.Networks, attachment)
		}
	}

	return info, nil
}

// Stats implements Runtime
func (m *DockerManager) Stats(ctx context.Context, ref string) (*StatsSnapshot, error) {
	stats, err := m.client.ContainerStatsOneShot(ctx, ref)
	if err != nil {
		return nil, m.translate(err, "failed to get container stats for %s", ref)
	}
	defer stats.Body.Close()

	var dockerStats container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&dockerStats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	readAt := dockerStats.Read
	if readAt.IsZero() {
		readAt = time.Now()
	}

	var perCPU []uint64
	if n := len(dockerStats.CPUStats.CPUUsage.PercpuUsage); n > 0 {
		perCPU = make([]uint64, n)
		copy(perCPU, dockerStats.CPUStats.CPUUsage.PercpuUsage)
	}

	return &StatsSnapshot{
		ReadAt:         readAt,
		CPUUsage:       dockerStats.CPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage: dockerStats.CPUStats.SystemUsage,
		PerCPUUsage:    perCPU,
		MemoryUsage:    dockerStats.MemoryStats.Usage,
	}, nil
}

// Run implements Runtime
func (m *DockerManager) Run(ctx context.Context, cfg RunConfig) (*ContainerSummary, error) {
	if err := m.ensureImage(ctx, cfg.Image); err != nil {
		return nil, err
	}

	resp, err := m.client.ContainerCreate(ctx,
		&container.Config{
			Image: cfg.Image,
			Cmd:   cfg.Command,
		},
		&container.HostConfig{},
		&network.NetworkingConfig{},
		nil,
		cfg.Name,
	)
	if err != nil {
		return nil, m.translateRun(err, "failed to create container %s", cfg.Name)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, m.translateRun(err, "failed to start container %s", cfg.Name)
	}

	return &ContainerSummary{
		ID:     stringid.TruncateID(resp.ID),
		Name:   cfg.Name,
		Status: ContainerStateRunning,
		Image:  cfg.Image,
	}, nil
}

// ensureImage pulls imageName only when the daemon does not have it yet
func (m *DockerManager) ensureImage(ctx context.Context, imageName string) error {
	_, err := m.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return m.translateRun(err, "failed to inspect image %s", imageName)
	}

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return m.translateRun(err, "failed to pull image %s", imageName)
	}
	defer reader.Close()

	// Read the output to ensure the pull completes
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return m.translateRun(err, "failed to read pull output for %s", imageName)
	}
	return nil
}

// RemoveContainer implements Runtime
func (m *DockerManager) RemoveContainer(ctx context.Context, ref string, force bool) error {
	if err := m.client.ContainerRemove(ctx, ref, container.RemoveOptions{Force: force}); err != nil {
		return m.translate(err, "failed to remove container %s", ref)
	}
	return nil
}

// Close implements Runtime
func (m *DockerManager) Close() error {
	return m.client.Close()
}

// translate wraps a Docker client error and tags it with the matching kind
func (m *DockerManager) translate(err error, format string, args ...any) error {
	wrapped := fmt.Errorf(format+": %w", append(args, err)...)
	switch {
	case client.IsErrConnectionFailed(err):
		return ferrors.Mark(wrapped, ferrors.ErrUnavailable)
	case cerrdefs.IsNotFound(err):
		return ferrors.Mark(wrapped, ferrors.ErrNotFound)
	default:
		return wrapped
	}
}

// translateRun is translate for the create path, where anything the daemon
// rejects (name conflicts, bad references, failed pulls) is the caller's fault.
func (m *DockerManager) translateRun(err error, format string, args ...any) error {
	if client.IsErrConnectionFailed(err) {
		return m.translate(err, format, args...)
	}
	return ferrors.Mark(fmt.Errorf(format+": %w", append(args, err)...), ferrors.ErrInvalidRequest)
}

// Helper functions
func dockerStateToContainerState(state string) ContainerState {
	switch state {
	case "created":
		return ContainerStateCreated
	case "running":
		return ContainerStateRunning
	case "paused":
		return ContainerStatePaused
	case "restarting":
		return ContainerStateRestarting
	case "removing":
		return ContainerStateRemoving
	case "exited":
		return ContainerStateExited
	case "dead":
		return ContainerStateDead
	default:
		return ContainerStateUnknown
	}
}
