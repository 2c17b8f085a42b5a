package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	cdpPort          nat.Port = "9222/tcp"
	containerLabel            = "browseruse-agent.task"
	connectAttempts           = 20
	connectRetryWait          = 250 * time.Millisecond
)

// DockerProvider starts one headless Chrome container per task and connects
// to it over CDP. The container is removed when the session closes.
type DockerProvider struct {
	client *client.Client
	image  string
	driver *PlaywrightProvider
}

// NewDockerProvider creates a provider using the Docker daemon from the
// environment
func NewDockerProvider(image string) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerProvider{
		client: cli,
		image:  image,
		driver: &PlaywrightProvider{mode: "docker"},
	}, nil
}

// Mode implements Provider
func (d *DockerProvider) Mode() string { return "docker" }

// IsAvailable checks if Docker is reachable
func (d *DockerProvider) IsAvailable(ctx context.Context) bool {
	_, err := d.client.Ping(ctx)
	return err == nil
}

// Open implements Provider
func (d *DockerProvider) Open(ctx context.Context, taskID string) (Session, error) {
	pw, err := d.driver.driver()
	if err != nil {
		return nil, err
	}

	resp, err := d.client.ContainerCreate(ctx,
		&container.Config{
			Image:        d.image,
			ExposedPorts: nat.PortSet{cdpPort: struct{}{}},
			Labels:       map[string]string{containerLabel: taskID},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				cdpPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
			},
		},
		nil, nil, containerName(taskID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser container: %w", err)
	}
	containerID := resp.ID

	remove := func() error {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.client.ContainerRemove(rctx, containerID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", shortID(containerID), err)
		}
		return nil
	}

	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		_ = remove()
		return nil, fmt.Errorf("failed to start browser container: %w", err)
	}

	endpoint, err := d.endpoint(ctx, containerID)
	if err != nil {
		_ = remove()
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		session, err := connectCDP(pw, endpoint, remove)
		if err == nil {
			return session, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			_ = remove()
			return nil, ctx.Err()
		case <-time.After(connectRetryWait):
		}
	}

	_ = remove()
	return nil, fmt.Errorf("browser container never became ready: %w", lastErr)
}

// endpoint returns the host-side CDP URL of a started container
func (d *DockerProvider) endpoint(ctx context.Context, containerID string) (string, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", shortID(containerID))
	}
	return cdpEndpoint(inspect.NetworkSettings.Ports)
}

// Close stops the Playwright driver and the Docker client
func (d *DockerProvider) Close() error {
	driverErr := d.driver.Close()
	if err := d.client.Close(); err != nil {
		return err
	}
	return driverErr
}

func cdpEndpoint(ports nat.PortMap) (string, error) {
	bindings := ports[cdpPort]
	for _, b := range bindings {
		if b.HostPort == "" {
			continue
		}
		host := b.HostIP
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		return fmt.Sprintf("http://%s:%s", host, b.HostPort), nil
	}
	return "", fmt.Errorf("no host port bound for %s", cdpPort)
}

func containerName(taskID string) string {
	return "browseruse-task-" + taskID
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
