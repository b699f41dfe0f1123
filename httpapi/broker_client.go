package httpapi

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	grid "github.com/seoyhaein/grid-go"
	"github.com/sirupsen/logrus"
)

// BrokerClient talks to a BrokerServer. Engines use it as their grid.StatusReporter;
// submitters use the task and object calls.
type BrokerClient struct {
	http *resty.Client
	log  logrus.FieldLogger
}

var _ grid.StatusReporter = (*BrokerClient)(nil)

func NewBrokerClient(baseURL string, opts ...ClientOption) *BrokerClient {
	c, log := newRestyClient(baseURL, opts)
	return &BrokerClient{http: c, log: log}
}

// UpdateEngineStatus reports status for engineID. Failures are logged, the engine carries on.
func (c *BrokerClient) UpdateEngineStatus(engineID string, status grid.EngineStatus) {
	err := c.do(context.Background(), c.http.R().
		SetPathParam("id", engineID).
		SetBody(StatusUpdate{Status: status}), resty.MethodPut, "/engines/{id}/status")
	if err != nil {
		c.log.WithFields(logrus.Fields{"engine_id": engineID, "status": status}).WithError(err).Error("error reporting engine status")
	}
}

func (c *BrokerClient) ReportTaskFault(engineID, taskID, reason string) {
	err := c.do(context.Background(), c.http.R().
		SetPathParam("id", engineID).
		SetBody(FaultReport{TaskID: taskID, Reason: reason}), resty.MethodPost, "/engines/{id}/faults")
	if err != nil {
		c.log.WithFields(logrus.Fields{"engine_id": engineID, "task_id": taskID}).WithError(err).Error("error reporting task fault")
	}
}

// Register asks the broker to register engineID. An empty address lets the broker derive it.
func (c *BrokerClient) Register(ctx context.Context, engineID, address string) error {
	return c.do(ctx, c.http.R().SetBody(RegisterRequest{EngineID: engineID, Address: address}), resty.MethodPost, "/engines")
}

func (c *BrokerClient) Unregister(ctx context.Context, engineID string) error {
	return c.do(ctx, c.http.R().SetPathParam("id", engineID), resty.MethodDelete, "/engines/{id}")
}

// Submit queues d. A non-empty callbackURL receives the handle once it completes.
func (c *BrokerClient) Submit(ctx context.Context, d grid.WorkDescriptor, callbackURL string) (grid.RequestHandle, error) {
	var h grid.RequestHandle
	err := c.do(ctx, c.http.R().
		SetBody(SubmitRequest{Descriptor: d, CallbackURL: callbackURL}).
		SetResult(&h), resty.MethodPost, "/tasks")
	return h, err
}

func (c *BrokerClient) TaskStatus(ctx context.Context, taskID string) (grid.TaskStatus, error) {
	var out TaskStatusResponse
	err := c.do(ctx, c.http.R().SetPathParam("id", taskID).SetResult(&out), resty.MethodGet, "/tasks/{id}")
	return out.Status, err
}

func (c *BrokerClient) TaskHandle(ctx context.Context, taskID string) (grid.RequestHandle, error) {
	var h grid.RequestHandle
	err := c.do(ctx, c.http.R().SetPathParam("id", taskID).SetResult(&h), resty.MethodGet, "/tasks/{id}/handle")
	return h, err
}

func (c *BrokerClient) Collect(ctx context.Context, taskID string) (grid.RequestHandle, error) {
	var h grid.RequestHandle
	err := c.do(ctx, c.http.R().SetPathParam("id", taskID).SetResult(&h), resty.MethodPost, "/tasks/{id}/collect")
	return h, err
}

// CreateObject blocks on the broker until an engine is free, like Broker.CreateObject.
func (c *BrokerClient) CreateObject(ctx context.Context, d grid.WorkDescriptor) (grid.HostObjectRef, error) {
	var ref grid.HostObjectRef
	err := c.do(ctx, c.http.R().SetBody(ObjectRequest{Descriptor: d}).SetResult(&ref), resty.MethodPost, "/objects")
	return ref, err
}

func (c *BrokerClient) Engines(ctx context.Context) (EnginesResponse, error) {
	var out EnginesResponse
	err := c.do(ctx, c.http.R().SetResult(&out), resty.MethodGet, "/engines")
	return out, err
}

func (c *BrokerClient) EngineStatus(ctx context.Context, engineID string) (grid.EngineStatus, error) {
	var out EngineStatusResponse
	err := c.do(ctx, c.http.R().SetPathParam("id", engineID).SetResult(&out), resty.MethodGet, "/engines/{id}")
	return out.Status, err
}

func (c *BrokerClient) do(ctx context.Context, req *resty.Request, method, url string) error {
	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}
