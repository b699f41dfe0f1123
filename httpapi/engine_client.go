package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	grid "github.com/seoyhaein/grid-go"
	"github.com/sirupsen/logrus"
)

// EngineClient is the broker-side proxy of an engine served by EngineServer.
type EngineClient struct {
	id   string
	http *resty.Client
	// once sends requests that must not be repeated
	once *resty.Client
	log  logrus.FieldLogger
}

var _ grid.Engine = (*EngineClient)(nil)

func NewEngineClient(engineID, baseURL string, opts ...ClientOption) *EngineClient {
	c, log := newRestyClient(baseURL, opts)
	once, _ := newRestyClient(baseURL, append(opts[:len(opts):len(opts)], WithRetries(0)))
	return &EngineClient{id: engineID, http: c, once: once, log: log.WithField("engine_id", engineID)}
}

func (c *EngineClient) ID() string { return c.id }

// ExecuteTask hands d to the engine. It returns once the engine has accepted the task.
// The request is sent once: a lost answer must not run the task twice.
func (c *EngineClient) ExecuteTask(ctx context.Context, d grid.WorkDescriptor) error {
	resp, err := c.once.R().
		SetContext(ctx).
		SetBody(d).
		Post("/execute")
	if err != nil {
		return fmt.Errorf("execute %s on %s: %w", d.ID, c.id, err)
	}
	if resp.StatusCode() != http.StatusAccepted {
		return responseError(resp)
	}
	return nil
}

func (c *EngineClient) CreateObject(ctx context.Context, d grid.WorkDescriptor) (grid.HostObjectRef, error) {
	var ref grid.HostObjectRef
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ObjectRequest{Descriptor: d}).
		SetResult(&ref).
		Post("/objects")
	if err != nil {
		return grid.HostObjectRef{}, fmt.Errorf("create object on %s: %w", c.id, err)
	}
	if resp.IsError() {
		return grid.HostObjectRef{}, responseError(resp)
	}
	return ref, nil
}

func (c *EngineClient) ReleaseObject(ctx context.Context, objectID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		Delete("/objects/{id}")
	if err != nil {
		return fmt.Errorf("release object %s on %s: %w", objectID, c.id, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

func (c *EngineClient) Status(ctx context.Context) (EngineStatusResponse, error) {
	var out EngineStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/status")
	if err != nil {
		return out, fmt.Errorf("status of %s: %w", c.id, err)
	}
	if resp.IsError() {
		return out, responseError(resp)
	}
	return out, nil
}

// NewEngineDialer returns a grid.EngineDialer for engines that register by id only.
// The engine's base URL is urlTemplate with %s replaced by the id; the engine must answer
// GET /status with a matching id before it is registered.
func NewEngineDialer(urlTemplate string, opts ...ClientOption) grid.EngineDialer {
	return func(ctx context.Context, engineID string) (grid.Engine, error) {
		if !strings.Contains(urlTemplate, "%s") {
			return nil, fmt.Errorf("engine url template %q has no %%s", urlTemplate)
		}
		c := NewEngineClient(engineID, fmt.Sprintf(urlTemplate, engineID), opts...)
		st, err := c.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.EngineID != engineID {
			return nil, fmt.Errorf("%w: %s answered as %q", grid.ErrUnknownEngine, engineID, st.EngineID)
		}
		return c, nil
	}
}
