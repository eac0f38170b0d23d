package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"stake-group/logger"
	"stake-group/metrics"
	"stake-group/models"
)

// Notifier delivers member change diffs to subscribers. Delivery is fire
// and forget: it never reports failure back to the caller.
type Notifier interface {
	Notify(ctx context.Context, hooks []string, msg models.MemberChangedHookMsg)
}

// HTTPNotifier POSTs the hook envelope as JSON to every hook address,
// each in its own goroutine.
type HTTPNotifier struct {
	client  *http.Client
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewHTTPNotifier creates an HTTPNotifier. A nil client uses http.DefaultClient.
func NewHTTPNotifier(client *http.Client, timeout time.Duration, m *metrics.Metrics) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNotifier{client: client, timeout: timeout, log: logger.Logger, metrics: m}
}

func (n *HTTPNotifier) Notify(ctx context.Context, hooks []string, msg models.MemberChangedHookMsg) {
	body, err := json.Marshal(models.HookEnvelope{MemberChangedHook: &msg})
	if err != nil {
		n.log.Error("Failed to encode hook message", zap.Error(err))
		return
	}
	// deliveries outlive the call that triggered them
	ctx = context.WithoutCancel(ctx)
	for _, hook := range hooks {
		n.wg.Add(1)
		go func(hook string) {
			defer n.wg.Done()
			err := n.deliver(ctx, hook, body)
			n.metrics.ObserveHook(err)
			if err != nil {
				n.log.Warn("Hook delivery failed", zap.String("hook", hook), zap.Error(err))
				return
			}
			n.log.Debug("Hook delivered", zap.String("hook", hook), zap.Int("diffs", len(msg.Diffs)))
		}(hook)
	}
}

// Wait blocks until every delivery started so far has finished
func (n *HTTPNotifier) Wait() {
	n.wg.Wait()
}

func (n *HTTPNotifier) deliver(ctx context.Context, hook string, body []byte) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("hook responded %s", resp.Status)
	}
	return nil
}
