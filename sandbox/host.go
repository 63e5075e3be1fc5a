// Package sandbox launches one isolated child process per service
// invocation, streams the sandbox payload in over stdin, reads the
// response out over stdout, and enforces a wall-clock timeout. Every
// invocation runs in its own throwaway Docker container: there is no
// persistent worker and no address-space sharing with the host or
// between invocations.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"golang.org/x/time/rate"

	"github.com/chatcore/router/sdk"
	"github.com/chatcore/router/store"
)

// Invocation failures. Run does not return these as errors: it reports
// them as a Result with OK false and Error set to the sentinel's text.
// Errors that Run does return come from Docker itself (create, attach,
// start, wait) or from decoding the bundle.
var (
	ErrTimeout     = errors.New("timeout")
	ErrCrash       = errors.New("crash")
	ErrBadResponse = errors.New("bad_response")
	ErrNetDenied   = errors.New("outbound rate limit exhausted for this invocation")
)

const (
	// DefaultImage runs the bundled SDK runtime shim, a thin JavaScript
	// harness concatenated ahead of every service's source.
	DefaultImage = "node:20-slim"

	// defaultTimeout matches the host default when a route does not
	// override it.
	defaultTimeout = 2 * time.Second

	// stdoutCeiling is the hard cap on captured stdout bytes.
	stdoutCeiling = 256 * 1024

	killGrace = 3 * time.Second
)

// RunOptions configures one invocation.
type RunOptions struct {
	// Timeout overrides defaultTimeout when non-zero.
	Timeout time.Duration

	// Net is the allow-list of domain patterns this invocation may
	// reach. Empty means no outbound network at all.
	Net []string
}

// Result is the outcome of one sandbox invocation.
type Result struct {
	OK       bool
	Response sdk.Response
	Error    string
}

// Host runs service bundles inside Docker containers.
type Host struct {
	cli   *client.Client
	image string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithImage overrides the container image used to run bundles.
func WithImage(image string) HostOption {
	return func(h *Host) { h.image = image }
}

// NewHost connects to the local Docker daemon. It tries the environment
// first (DOCKER_HOST and friends), then the conventional Linux socket.
func NewHost(opts ...HostOption) (*Host, error) {
	h := &Host{
		image:    DefaultImage,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	h.cli = cli
	return h, nil
}

// Close releases the Docker client.
func (h *Host) Close() error {
	return h.cli.Close()
}

// limiterFor returns the rate.Limiter guarding outbound invocations for
// domain, creating one on first use. Each domain gets a small burst and
// a slow steady-state refill; this is a coarse, invocation-level cap —
// the host cannot see individual requests a child process makes once
// its network is attached, only whether this invocation is allowed to
// have a network at all.
func (h *Host) limiterFor(domain string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[domain]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 5)
		h.limiters[domain] = l
	}
	return l
}

// admitNet checks every requested domain's limiter and reports whether
// this invocation may proceed with its network attached.
func (h *Host) admitNet(domains []string) bool {
	for _, d := range domains {
		if !h.limiterFor(d).Allow() {
			return false
		}
	}
	return true
}

// Run executes one service invocation: bundle b, decoded from its data
// URI, is given payload on stdin; the response is parsed from its
// stdout.
func (h *Host) Run(ctx context.Context, b store.Bundle, payload []byte, opts RunOptions) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	moduleText, err := decodeDataURL(b.DataURL)
	if err != nil {
		return Result{}, fmt.Errorf("decode bundle %s: %w", b.BundleHash, err)
	}

	netMode := "none"
	if len(opts.Net) > 0 {
		if !h.admitNet(opts.Net) {
			return Result{OK: false, Error: ErrNetDenied.Error()}, nil
		}
		netMode = "bridge"
	}

	cfg := &container.Config{
		Image:        h.image,
		Cmd:          []string{"node", "-e", moduleText},
		Env:          nil, // zero ambient authority: no inherited environment
		WorkingDir:   "/",
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    container.NetworkMode(netMode),
		AutoRemove:     false,
		ReadonlyRootfs: true,
		Resources: container.Resources{
			Memory:   256 * 1024 * 1024,
			NanoCPUs: 1_000_000_000, // one vCPU
		},
	}

	var netCfg *network.NetworkingConfig

	created, err := h.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("create sandbox container: %w", err)
	}
	id := created.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.cli.ContainerRemove(removeCtx, id, container.RemoveOptions{Force: true})
	}()

	attach, err := h.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("attach sandbox container: %w", err)
	}
	defer attach.Close()

	if err := h.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("start sandbox container: %w", err)
	}

	if _, err := attach.Conn.Write(payload); err != nil {
		return Result{}, fmt.Errorf("write sandbox stdin: %w", err)
	}
	attach.CloseWrite()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&limitedWriter{w: &stdout, max: stdoutCeiling}, &stderr, attach.Reader)
		copyDone <- err
	}()

	waitCh, errCh := h.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		h.terminate(id)
		<-copyDone
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{OK: false, Error: ErrTimeout.Error()}, nil
		}
		return Result{}, fmt.Errorf("wait for sandbox container: %w", err)

	case status := <-waitCh:
		<-copyDone
		if status.StatusCode != 0 || stdout.Len() == 0 {
			return Result{OK: false, Error: ErrCrash.Error()}, nil
		}
		resp, err := parseResponse(stdout.Bytes())
		if err != nil {
			return Result{OK: false, Error: ErrBadResponse.Error()}, nil
		}
		return Result{OK: true, Response: resp}, nil
	}
}

// terminate stops a container gracefully, then force-kills it after
// killGrace if it is still running.
func (h *Host) terminate(id string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), killGrace)
	defer cancel()
	timeoutSecs := int(killGrace.Seconds())
	_ = h.cli.ContainerStop(stopCtx, id, container.StopOptions{Timeout: &timeoutSecs})
}

// parseResponse parses the final line of stdout as a sdk.Response, per
// the sandbox protocol's single-response-per-invocation contract.
func parseResponse(out []byte) (sdk.Response, error) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	last := lines[len(lines)-1]

	var resp sdk.Response
	if err := json.Unmarshal(last, &resp); err != nil {
		return sdk.Response{}, err
	}
	return resp, nil
}

// decodeDataURL extracts and base64-decodes the body of a
// data:<mime>;base64,<b64> URI, returned as a JavaScript source string.
func decodeDataURL(dataURL string) (string, error) {
	const marker = ";base64,"
	idx := strings.Index(dataURL, marker)
	if idx < 0 {
		return "", fmt.Errorf("not a base64 data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[idx+len(marker):])
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// limitedWriter caps the number of bytes written to w at max, silently
// discarding the remainder (stdout truncation, not an error condition).
type limitedWriter struct {
	w   *bytes.Buffer
	max int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.w.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	lw.w.Write(p)
	return len(p), nil
}
