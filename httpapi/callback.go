package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dlsniper/debugger"
	"github.com/go-resty/resty/v2"
	grid "github.com/seoyhaein/grid-go"
	"github.com/sirupsen/logrus"
)

// CallbackNotifier delivers TaskComplete to a submitter's callback URL.
// Delivery is one POST of the handle, made off the broker's goroutine; a failed delivery
// is logged and not retried beyond the client's transport retries.
type CallbackNotifier struct {
	url     string
	http    *resty.Client
	timeout time.Duration
	log     logrus.FieldLogger
}

var _ grid.CompletionCallback = (*CallbackNotifier)(nil)

func NewCallbackNotifier(url string, timeout time.Duration, opts ...ClientOption) *CallbackNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c, log := newRestyClient("", append([]ClientOption{WithTimeout(timeout)}, opts...))
	return &CallbackNotifier{url: url, http: c, timeout: timeout, log: log.WithField("callback_url", url)}
}

func (n *CallbackNotifier) TaskComplete(h grid.RequestHandle) {
	go n.post(h)
}

func (n *CallbackNotifier) post(h grid.RequestHandle) {
	debugger.SetLabels(func() []string {
		return []string{"grid", "callback", "task_id", h.TaskID}
	})
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	resp, err := n.http.R().SetContext(ctx).SetBody(h).Post(n.url)
	if err == nil && resp.IsError() {
		err = responseError(resp)
	}
	if err != nil {
		n.log.WithFields(logrus.Fields{"task_id": h.TaskID, "handle": h.Handle}).WithError(err).Warn("error delivering completion")
	}
}

// CallbackHandler receives completions posted by a CallbackNotifier and hands them to cb.
func CallbackHandler(cb grid.CompletionCallback) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var h grid.RequestHandle
		if err := readJSON(r, &h); err != nil {
			writeError(w, badRequest(err))
			return
		}
		cb.TaskComplete(h)
		w.WriteHeader(http.StatusNoContent)
	})
}
