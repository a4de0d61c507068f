package relay

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPBackend drives the default relay's HTTP bitmask API:
// GET http://{ip}/CN/httpapi.json?sndtime={random}&CMD=UART_WRITE&UWHEXVAL={port}
// returning a comma-separated first field whose bits give every port's
// state (bit n = port n+1, 0 = on, 1 = off).
type HTTPBackend struct {
	Host   string
	Client *http.Client
}

// NewHTTPBackend builds an HTTPBackend against host (ip[:port]).
func NewHTTPBackend(host string) *HTTPBackend {
	return &HTTPBackend{
		Host:   host,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (b *HTTPBackend) Query(ctx context.Context, port int) (PortState, error) {
	bitmask, err := b.readBitmask(ctx)
	if err != nil {
		return 0, err
	}
	// bit (port-1): 0 = on, 1 = off
	if bitmask&(1<<uint(port-1)) != 0 {
		return StateOff, nil
	}
	return StateOn, nil
}

func (b *HTTPBackend) Set(ctx context.Context, port int, state PortState) error {
	req, err := b.newRequest(ctx, port)
	if err != nil {
		return err
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: http backend set port %d: %w", port, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay: http backend set port %d: status %d", port, resp.StatusCode)
	}
	_ = state // the command byte itself already encodes the toggle action
	return nil
}

func (b *HTTPBackend) newRequest(ctx context.Context, port int) (*http.Request, error) {
	u := fmt.Sprintf("http://%s/CN/httpapi.json?sndtime=%d&CMD=UART_WRITE&UWHEXVAL=%d",
		b.Host, rand.Int63(), port)
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (b *HTTPBackend) readBitmask(ctx context.Context) (uint16, error) {
	u := fmt.Sprintf("http://%s/CN/httpapi.json?sndtime=%d&CMD=UART_READ", b.Host, rand.Int63())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("relay: http backend query: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("relay: http backend read response: %w", err)
	}

	fields := strings.Split(strings.TrimSpace(string(body)), ",")
	if len(fields) == 0 {
		return 0, fmt.Errorf("relay: http backend empty response")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("relay: http backend parse bitmask %q: %w", fields[0], err)
	}
	return uint16(v), nil
}
