package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_customRegistry demonstrates using a custom Prometheus registry.
func Example_customRegistry() {
	reg := prometheus.NewRegistry()
	registry := NewRegistry(reg)

	registry.TasksCreated.WithLabelValues("thumbnails").Add(3)
	registry.TasksCompleted.WithLabelValues("thumbnails").Add(2)
	registry.TasksFailed.WithLabelValues("thumbnails").Inc()

	fmt.Println(testutil.ToFloat64(registry.TasksCreated.WithLabelValues("thumbnails")))
	fmt.Println(testutil.ToFloat64(registry.TasksFailed.WithLabelValues("thumbnails")))

	// Output:
	// 3
	// 1
}
