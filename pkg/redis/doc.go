// Package redis provides the Redis connection plumbing for the queue
// runtime: environment-driven configuration, a retrying Connect helper and a
// readiness probe.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // Redis never became reachable within the configured budget
//	}
//	defer client.Close()
package redis
