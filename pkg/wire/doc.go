// Package wire defines the framing used between mesh peers.
//
// A peer link is a plain TCP byte stream carrying frames terminated by the
// ASCII file separator (FS, 0x1c). The first byte of a frame is its type tag:
//
//	I  IDENTIFY     JSON {"uid": ..., "securityToken": ...}
//	R  REJECT       reason code
//	C  CLOSE        no payload, asks the receiver to close the link
//	S  SUBSCRIBE    topic
//	U  UNSUBSCRIBE  topic
//	M  MSG          topic, GS (0x1d), encoded payload
//	E  ERROR        free-form message
//
// Topics therefore must not contain either separator byte.
package wire
