package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"github.com/tracepad/tracepad"
)

// Container labels. The janitor and the orphan sweep select on labelApp;
// labelBoot records which incarnation of the client started the container;
// the rest carry per-process lifecycle state so a restarted client can
// enforce deadlines it did not set.
const (
	labelApp      = "tracepad.app"
	labelBoot     = "tracepad.boot"
	labelStateDir = "tracepad.statedir"
	labelTimeout  = "tracepad.timeout_s"
	labelIdle     = "tracepad.idle_timeout_s"
)

// janitorInterval is the cadence of the deadline scan.
const janitorInterval = time.Minute

// DockerHost runs driver processes as labelled Docker containers. Each
// container gets a private state directory on the Docker host, bind-mounted
// at the in-sandbox io directory, so Append and Read are plain file
// operations on this side of the mount.
//
// A background janitor enforces the overall and idle deadlines; Docker
// itself enforces the CPU and memory budgets.
type DockerHost struct {
	cli       *client.Client
	stateRoot string
	logger    *slog.Logger
	stop      chan struct{}
}

// DockerOption configures a DockerHost.
type DockerOption func(*DockerHost)

// DockerLogger sets the structured logger. Default: discard.
func DockerLogger(l *slog.Logger) DockerOption {
	return func(h *DockerHost) { h.logger = l }
}

// NewDockerHost connects to the local Docker daemon and starts the deadline
// janitor. stateRoot is the directory holding per-container state dirs; it
// is created if missing. Close releases the client and stops the janitor.
func NewDockerHost(stateRoot string, opts ...DockerOption) (*DockerHost, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return nil, fmt.Errorf("state root: %w", err)
	}
	h := &DockerHost{
		cli:       cli,
		stateRoot: stateRoot,
		logger:    slog.New(slog.DiscardHandler),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.janitor()
	return h, nil
}

// Close stops the janitor and the Docker client. Running containers are
// left to their deadlines.
func (h *DockerHost) Close() error {
	close(h.stop)
	return h.cli.Close()
}

// Start implements Host.
func (h *DockerHost) Start(ctx context.Context, opts StartOptions) (Process, error) {
	opts = opts.withDefaults()
	if opts.Image == "" {
		return nil, fmt.Errorf("start sandbox: image not set")
	}

	stateDir := filepath.Join(h.stateRoot, tracepad.NewID())
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	// The request file must exist before the driver's tail loop opens it.
	if err := os.WriteFile(filepath.Join(stateDir, filepath.Base(StdinFile)), nil, 0o644); err != nil {
		return nil, fmt.Errorf("request file: %w", err)
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	created, err := h.cli.ContainerCreate(ctx,
		&container.Config{
			Image: opts.Image,
			Env:   env,
			Labels: map[string]string{
				labelApp:      opts.AppName,
				labelBoot:     bootID,
				labelStateDir: stateDir,
				labelTimeout:  strconv.Itoa(int(opts.Timeout.Seconds())),
				labelIdle:     strconv.Itoa(int(opts.IdleTimeout.Seconds())),
			},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: stateDir,
				Target: IODataDir,
			}},
			Resources: container.Resources{
				Memory:   opts.MemoryMiB << 20,
				NanoCPUs: int64(opts.CPUs * 1e9),
			},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := h.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		h.remove(context.WithoutCancel(ctx), created.ID)
		return nil, fmt.Errorf("start container: %w", err)
	}

	h.logger.Info("sandbox started", "container", created.ID[:12], "image", opts.Image, "state_dir", stateDir)
	return &dockerProcess{host: h, id: created.ID, bootID: bootID, stateDir: stateDir}, nil
}

// FromID implements Host. The container must still exist; it need not be
// running.
func (h *DockerHost) FromID(ctx context.Context, id string) (Process, error) {
	info, err := h.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	stateDir := info.Config.Labels[labelStateDir]
	if stateDir == "" {
		return nil, fmt.Errorf("container %s has no sandbox state dir", id)
	}
	return &dockerProcess{host: h, id: id, bootID: info.Config.Labels[labelBoot], stateDir: stateDir}, nil
}

// List implements Host: all running containers under the given app label.
func (h *DockerHost) List(ctx context.Context, appName string) ([]Process, error) {
	summaries, err := h.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", labelApp+"="+appName)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	procs := make([]Process, 0, len(summaries))
	for _, s := range summaries {
		procs = append(procs, &dockerProcess{host: h, id: s.ID, bootID: s.Labels[labelBoot], stateDir: s.Labels[labelStateDir]})
	}
	return procs, nil
}

// remove force-removes a container, logging failures.
func (h *DockerHost) remove(ctx context.Context, id string) {
	if err := h.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		h.logger.Warn("remove container", "container", id[:12], "error", err)
	}
}

// janitor scans for containers past their overall or idle deadline and
// terminates them. Idle time is measured from the request file's mtime:
// every submit touches it, so it is the last-activity clock.
func (h *DockerHost) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), janitorInterval/2)
		h.reap(ctx)
		cancel()
	}
}

func (h *DockerHost) reap(ctx context.Context) {
	summaries, err := h.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", labelApp)),
	})
	if err != nil {
		h.logger.Warn("janitor: list containers", "error", err)
		return
	}
	now := time.Now()
	for _, s := range summaries {
		timeout, _ := strconv.Atoi(s.Labels[labelTimeout])
		idle, _ := strconv.Atoi(s.Labels[labelIdle])
		expired := timeout > 0 && now.Sub(time.Unix(s.Created, 0)) > time.Duration(timeout)*time.Second
		if !expired && idle > 0 {
			stdin := filepath.Join(s.Labels[labelStateDir], filepath.Base(StdinFile))
			if fi, err := os.Stat(stdin); err == nil && now.Sub(fi.ModTime()) > time.Duration(idle)*time.Second {
				expired = true
			}
		}
		if expired {
			h.logger.Info("janitor: reaping expired sandbox", "container", s.ID[:12])
			h.remove(ctx, s.ID)
		}
	}
}

// dockerProcess is the Process handle for one container.
type dockerProcess struct {
	host     *DockerHost
	id       string
	bootID   string
	stateDir string
}

func (p *dockerProcess) ID() string     { return p.id }
func (p *dockerProcess) BootID() string { return p.bootID }

// Alive reports whether the container is still running.
func (p *dockerProcess) Alive(ctx context.Context) bool {
	info, err := p.host.cli.ContainerInspect(ctx, p.id)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

// Terminate stops and removes the container. A container that is already
// gone is success.
func (p *dockerProcess) Terminate(ctx context.Context) error {
	timeout := 5
	err := p.host.cli.ContainerStop(ctx, p.id, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := p.host.cli.ContainerRemove(ctx, p.id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Append implements Process via the bind mount: the in-sandbox path maps to
// the state directory on this side.
func (p *dockerProcess) Append(ctx context.Context, ioPath string, data []byte) error {
	local, err := p.localPath(ioPath)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return classifyFS(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return classifyFS(err)
	}
	return nil
}

// Read implements Process via the bind mount.
func (p *dockerProcess) Read(ctx context.Context, ioPath string) ([]byte, error) {
	local, err := p.localPath(ioPath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(local)
	if err != nil {
		return nil, classifyFS(err)
	}
	return raw, nil
}

// localPath maps an in-sandbox io path to its location in the state dir,
// refusing anything outside the io directory.
func (p *dockerProcess) localPath(ioPath string) (string, error) {
	rel := strings.TrimPrefix(ioPath, IODataDir+"/")
	if rel == ioPath || strings.Contains(rel, "..") || strings.Contains(rel, "/") {
		return "", fmt.Errorf("path outside io dir: %s", ioPath)
	}
	return filepath.Join(p.stateDir, rel), nil
}

// classifyFS maps local filesystem errors onto the protocol's error model:
// not-found passes through for the poll loop, everything else is transient
// from the protocol's point of view and worth a retry.
func classifyFS(err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", fs.ErrNotExist, err)
	}
	return fmt.Errorf("%w: %s", ErrTransient, err)
}

// compile-time checks
var (
	_ Host    = (*DockerHost)(nil)
	_ Process = (*dockerProcess)(nil)
)
