// Saturn is the usage metering and admission control sidecar.
//
// It decides, for every inbound request, whether a caller may consume a
// plan-gated capability: per-capability daily and weekly quotas, a rolling
// 60-second API rate limit, and a per-request line ceiling, under a
// free/pro plan model.
//
// Usage:
//
//	# Start the admission server with default configuration
//	saturn serve
//
//	# Start with a custom configuration file
//	saturn serve --config /etc/saturn/config.yaml
//
//	# Show version information
//	saturn version
package main

func main() {
	Execute()
}
