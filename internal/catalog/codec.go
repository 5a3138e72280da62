package catalog

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype catalog messages travel under.
const CodecName = "cbor"

var encMode cbor.EncMode

func init() {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = mode
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error)      { return encMode.Marshal(v) }
func (codec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }
func (codec) Name() string                       { return CodecName }

// EncodeResponse is the wire encoding of one response, reused for raw logs.
func EncodeResponse(resp *SegmentationResponse) ([]byte, error) {
	return encMode.Marshal(resp)
}

func DecodeResponse(data []byte) (*SegmentationResponse, error) {
	resp := new(SegmentationResponse)
	if err := cbor.Unmarshal(data, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
