package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const chromeImage = "browserless/chrome:latest"

// Instance is a browser container serving one browsing context
type Instance struct {
	ContainerID string
	ContextID   string
	ConnectURL  string
	Port        string
	ProfileDir  string
}

// Pool launches browserless/chrome containers with a context's profile mounted
type Pool struct {
	client *client.Client
}

// NewPool creates a docker-backed pool using the environment's docker settings
func NewPool() (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Pool{client: cli}, nil
}

// Launch starts a container whose Chrome profile is the context's profile directory
func (p *Pool) Launch(ctx context.Context, contextID, profileDir string) (*Instance, error) {
	containerConfig := &container.Config{
		Image: chromeImage,
		Labels: map[string]string{
			"context-id": contextID,
			"managed-by": "ai-in-one",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",        // Disable connection timeout
			"MAX_CONCURRENT_SESSIONS=1",    // One context per container
			"KEEP_ALIVE=true",              // Keep connections alive
			"EXIT_ON_HEALTH_FAILURE=false", // Don't exit on health check failures
			"DEFAULT_USER_DATA_DIR=/data",  // Persist cookies into the mounted profile
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: profileDir,
				Target: "/data",
			},
		},
	}

	resp, err := p.client.ContainerCreate(
		ctx,
		containerConfig,
		hostConfig,
		nil,
		nil,
		fmt.Sprintf("ai-in-one-%s", contextID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := inspect.NetworkSettings.Ports["3000/tcp"]
	if len(bindings) == 0 {
		p.remove(resp.ID)
		return nil, fmt.Errorf("container %s exposes no debugger port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	if err := p.waitForBrowserReady(ctx, port); err != nil {
		p.remove(resp.ID)
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	return &Instance{
		ContainerID: resp.ID,
		ContextID:   contextID,
		ConnectURL:  fmt.Sprintf("ws://127.0.0.1:%s", port),
		Port:        port,
		ProfileDir:  profileDir,
	}, nil
}

// StopBrowser stops and removes a container
func (p *Pool) StopBrowser(ctx context.Context, containerID string) error {
	timeout := 10
	stopOptions := container.StopOptions{
		Timeout: &timeout,
	}

	if err := p.client.ContainerStop(ctx, containerID, stopOptions); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// IsHealthy reports whether the container is still running
func (p *Pool) IsHealthy(ctx context.Context, containerID string) bool {
	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the browser image if it is not present
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == chromeImage {
				return nil
			}
		}
	}

	reader, err := p.client.ImagePull(ctx, chromeImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client
func (p *Pool) Close() error {
	return p.client.Close()
}

func (p *Pool) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// waitForBrowserReady polls the /json/version endpoint until Chrome answers
func (p *Pool) waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	maxRetries := 20 // 10 seconds total (20 * 500ms)

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}
