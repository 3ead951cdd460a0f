// Package routingtable provides the contract for routing published messages
// to remote peers.
//
// The registry records which remote peers asked for which topics, so that a
// publish only crosses the links of peers that subscribed:
//   - Subscriber: anything a frame can be sent to (a peer link)
//   - RemoteSubscriberRegistry: topic -> ordered set of subscribers
//
// Topics match exactly; there are no wildcard patterns.
//
// Example usage:
//
//	// a peer sent "Sorders"
//	registry.Add("orders", conn)
//
//	// fan a MSG frame out to every interested peer
//	sent, err := registry.SendMsgForTopic("orders", frame)
//	if err != nil {
//		log.Printf("delivered to %d peers: %v", sent, err)
//	}
//
//	// the link went away
//	registry.RemoveForAllTopics(conn)
//
// The in-memory implementation lives in internal/routingtable.
package routingtable
