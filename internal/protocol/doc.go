// Package protocol owns the coprocessor wire contract: the closed set of
// command and event messages, and the codec between those messages and
// de-framed payload bytes.
//
// Wire shape: a one-byte kind discriminant followed by kind-specific fields.
// All multi-byte integers are big-endian. Variable-length fields carry an
// explicit length prefix. Kinds below 0x80 are commands (host to
// coprocessor); 0x80 and above are events (coprocessor to host). Unknown
// discriminants parse to Unrecognized, never to an error.
package protocol
