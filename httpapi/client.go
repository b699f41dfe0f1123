package httpapi

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	grid "github.com/seoyhaein/grid-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout   = 10 * time.Second
	RetryCount       = 3
	RetryWaitTime    = 100 * time.Millisecond
	RetryWaitTimeMax = 2 * time.Second
)

type clientOptions struct {
	timeout time.Duration
	retries int
	log     logrus.FieldLogger
}

type ClientOption func(*clientOptions)

func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithRetries sets how often a request is retried after a transport error or a 429, 502 or
// 504 answer. EngineClient never retries POST /execute.
func WithRetries(n int) ClientOption {
	return func(o *clientOptions) { o.retries = n }
}

func WithClientLogger(l logrus.FieldLogger) ClientOption {
	return func(o *clientOptions) { o.log = l }
}

func newRestyClient(baseURL string, opts []ClientOption) (*resty.Client, logrus.FieldLogger) {
	o := clientOptions{timeout: DefaultTimeout, retries: RetryCount, log: grid.Log}
	for _, opt := range opts {
		opt(&o)
	}

	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetLogger(o.log)
	c.SetTimeout(o.timeout)
	c.SetHeader("Content-Type", "application/json")
	c.SetHeader("Accept", "application/json")
	c.SetJSONMarshaler(json.Marshal)
	c.SetJSONUnmarshaler(json.Unmarshal)
	c.SetError(&APIError{})
	c.SetRetryCount(o.retries)
	c.SetRetryWaitTime(RetryWaitTime)
	c.SetRetryMaxWaitTime(RetryWaitTimeMax)
	c.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		if response == nil {
			return false
		}
		switch response.StatusCode() {
		case
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
			http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	})
	return c, o.log
}

// responseError turns a non-2xx response into an *APIError.
func responseError(resp *resty.Response) error {
	if e, ok := resp.Error().(*APIError); ok && e.Code != "" {
		out := *e
		out.StatusCode = resp.StatusCode()
		return &out
	}
	return &APIError{
		StatusCode: resp.StatusCode(),
		Code:       "unexpected_status",
		Message:    resp.Request.Method + " " + resp.Request.URL + ": " + resp.Status(),
	}
}
