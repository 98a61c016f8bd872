// Package rpcserver exposes the admin surface over gRPC: node and peer
// control, profile and squeak CRUD, sync and payment actions, lnd
// passthroughs, and a family of server-streaming subscription feeds, all
// authenticated by a locally-baked macaroon.
//
// The messages in service.go are plain Go structs rather than
// protoc-generated types: this repository does not run the protobuf
// compiler, and hand-authoring a type that satisfies
// google.golang.org/protobuf's proto.Message (which requires a real
// ProtoReflect implementation backed by a compiled descriptor) is not
// something that can be done correctly without protoc. Instead jsonCodec
// below registers a JSON encoding.Codec under its own content subtype;
// AdminClient selects it per call via grpc.CallContentSubtype and the
// server resolves it from the request's content-type. The built-in proto
// codec stays untouched for the lnrpc connection the lightning package
// holds to a real lnd node in the same process. Everything else about the
// RPC path -- framing, compression, TLS, interceptors, streaming -- is the
// real google.golang.org/grpc transport.
package rpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype the admin surface's JSON codec is
// registered under ("application/grpc+squeak-json" on the wire).
const codecName = "squeak-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
