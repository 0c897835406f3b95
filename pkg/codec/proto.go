package codec

import (
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
)

// Replaceable in tests.
var (
	protoMarshal   = proto.Marshal
	protoUnmarshal = proto.Unmarshal
)

// ProtoCodec decodes Protocol Buffers request bodies into T and encodes U responses.
type ProtoCodec[T proto.Message, U proto.Message] struct {
	newRequest func() T
}

// NewProtoCodec creates a ProtoCodec. newRequest returns an empty request message
// to unmarshal into, e.g. func() *pb.CreateUserRequest { return &pb.CreateUserRequest{} }.
func NewProtoCodec[T proto.Message, U proto.Message](newRequest func() T) *ProtoCodec[T, U] {
	return &ProtoCodec[T, U]{newRequest: newRequest}
}

// Decode reads the request body and unmarshals it into a new T.
func (c *ProtoCodec[T, U]) Decode(r *http.Request) (T, error) {
	msg := c.newRequest()
	if r.Body == nil {
		return msg, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return msg, err
	}
	if err := protoUnmarshal(body, msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// Encode marshals resp and writes it with the application/x-protobuf content type.
func (c *ProtoCodec[T, U]) Encode(w http.ResponseWriter, resp U) error {
	body, err := protoMarshal(resp)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, err = w.Write(body)
	return err
}
