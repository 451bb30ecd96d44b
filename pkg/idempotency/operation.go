package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Fingerprint returns the SHA-256 hex digest of a request payload.
// Useful when the raw payload is too large or too sensitive to store.
func Fingerprint(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// ProtoHandler is a typed operation over protobuf messages.
type ProtoHandler[Req, Resp proto.Message] func(ctx context.Context, req Req) (Resp, error)

// ProcessProto runs a typed protobuf operation through d.
//
// The request is marshaled deterministically and used as the fingerprint. The
// handler's response is marshaled into the stored payload and unmarshaled
// into a message from newResp on every return, so first executions and
// replays decode the same bytes.
//
// Example:
//
//	resp, first, err := idempotency.ProcessProto(ctx, dedup, token, req,
//	    chargeHandler,
//	    func() *paymentpb.Receipt { return &paymentpb.Receipt{} },
//	)
func ProcessProto[Req, Resp proto.Message](
	ctx context.Context,
	d *Deduplicator,
	token string,
	req Req,
	handler ProtoHandler[Req, Resp],
	newResp func() Resp,
) (Resp, bool, error) {
	var zero Resp

	fingerprint, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return zero, false, fmt.Errorf("failed to marshal request proto: %w", err)
	}

	res, err := d.Process(ctx, token, fingerprint, func(ctx context.Context, _ []byte) ([]byte, error) {
		out, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}
		return proto.Marshal(out)
	})
	if err != nil {
		return zero, false, err
	}

	out := newResp()
	if err := proto.Unmarshal(res.Response, out); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal response proto: %w", err)
	}
	return out, res.FirstExecution, nil
}
