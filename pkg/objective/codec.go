package objective

import (
	"encoding/json"
	"math"
	"strconv"

	"google.golang.org/grpc/encoding"

	"github.com/fortiblox/genvm/internal/types"
)

// codecName is the gRPC content subtype used by the objective service.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the objective messages as JSON so the service needs no
// generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// wireFloat encodes non-finite values as quoted strings, which plain JSON
// numbers cannot represent.
type wireFloat float64

func (f wireFloat) MarshalJSON() ([]byte, error) {
	x := float64(f)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return []byte(strconv.Quote(strconv.FormatFloat(x, 'g', -1, 64))), nil
	}
	return []byte(strconv.FormatFloat(x, 'g', -1, 64)), nil
}

func (f *wireFloat) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = wireFloat(x)
	return nil
}

// EvaluateRequest asks the server for f(X).
type EvaluateRequest struct {
	X [types.Dimension]wireFloat `json:"x"`
}

// EvaluateResponse carries f(X).
type EvaluateResponse struct {
	F wireFloat `json:"f"`
}

func newRequest(v types.Vector) *EvaluateRequest {
	req := &EvaluateRequest{}
	for i, c := range v {
		req.X[i] = wireFloat(c)
	}
	return req
}

func (r *EvaluateRequest) vector() types.Vector {
	var v types.Vector
	for i, c := range r.X {
		v[i] = float64(c)
	}
	return v
}
