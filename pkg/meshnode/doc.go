// Package meshnode provides the host-facing contract of a mesh connector.
//
// This package defines the core abstractions for the connector component:
//   - Connector: a node of the full mesh, offering subscribe/unsubscribe/publish
//   - Handler and Handle: local message callbacks and their registrations
//   - HealthStatus and PeerInfo: state snapshots for health checks and admin tooling
//
// Every node dials every other node directly over TCP; there is no broker.
// Links authenticate with a shared security token and duplicate links to
// the same peer are collapsed to one. A published message only crosses the
// links of peers that subscribed to its topic.
//
// Architecture:
//  1. The connector binds its listener and dials every configured peer URL
//  2. Each new link exchanges IDENTIFY frames; failures are answered with REJECT
//  3. Verified links join the active set; readiness follows the active count
//  4. Subscribe announces the topic to active peers (SUBSCRIBE)
//  5. Peers record who subscribed and route MSG frames accordingly
//
// Delivery is best effort: no acknowledgements, no persistence, no replay.
//
// Example usage:
//
//	cfg := meshnode.NewConfig("0.0.0.0", 9001, []string{"node-2:9001", "node-3:9001"}, token)
//	conn, err := meshnode.New(cfg, meshnode.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	<-conn.Ready()
//
//	handle, err := conn.Subscribe("orders", func(topic string, msg any) {
//		log.Printf("%s: %v", topic, msg)
//	})
//	if err != nil {
//		return err
//	}
//	defer conn.Unsubscribe("orders", handle)
//
//	if err := conn.Publish("orders", map[string]any{"id": 42}); err != nil {
//		return err
//	}
//
// The implementation lives in internal/meshnode.
package meshnode
