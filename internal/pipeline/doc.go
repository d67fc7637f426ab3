// Package pipeline decodes VRChat pipeline frames.
//
// Each text frame is a JSON envelope:
//
//	{"type": "friend-online", "content": "{\"userId\":\"usr_...\",...}"}
//
// The content is usually a JSON document encoded as a string; some message
// types carry it as a raw object. Decode normalizes both into Message.Content.
package pipeline
