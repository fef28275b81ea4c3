package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const defaultPushTimeout = 5 * time.Second

// WriteTextfile writes the default registry in text exposition format, for
// node_exporter's textfile collector. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the default registry to a Pushgateway under the given job name.
func Push(ctx context.Context, url, job string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()

	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
