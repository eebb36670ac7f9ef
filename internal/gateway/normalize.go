package gateway

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// defaultInstructions is synthesized when a responses-format request carries
// none; the upstream rejects bodies without the field.
const defaultInstructions = "You are a helpful assistant."

// NormalizeResponsesBody repairs an openai-responses request body so the
// upstream accepts it:
//
//   - a bare string input becomes a one-message structured array
//   - missing instructions are synthesized
//   - max_output_tokens is dropped (the upstream rejects it)
//   - stream is forced to true; streamForced reports when the caller had not
//     asked for a stream, so the gateway collapses the stream on the way out
//
// A body that is not a JSON object passes through untouched.
func NormalizeResponsesBody(body []byte) (out []byte, streamForced bool, err error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return body, false, nil
	}

	out = body

	if input := gjson.GetBytes(out, "input"); input.Type == gjson.String {
		message := map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": input.String()},
			},
		}
		out, err = sjson.SetBytes(out, "input", []any{message})
		if err != nil {
			return nil, false, fmt.Errorf("gateway: normalize input: %w", err)
		}
	}

	if !gjson.GetBytes(out, "instructions").Exists() {
		out, err = sjson.SetBytes(out, "instructions", defaultInstructions)
		if err != nil {
			return nil, false, fmt.Errorf("gateway: normalize instructions: %w", err)
		}
	}

	if gjson.GetBytes(out, "max_output_tokens").Exists() {
		out, err = sjson.DeleteBytes(out, "max_output_tokens")
		if err != nil {
			return nil, false, fmt.Errorf("gateway: normalize max_output_tokens: %w", err)
		}
	}

	if stream := gjson.GetBytes(out, "stream"); !stream.Exists() || !stream.Bool() {
		out, err = sjson.SetBytes(out, "stream", true)
		if err != nil {
			return nil, false, fmt.Errorf("gateway: normalize stream: %w", err)
		}
		streamForced = true
	}

	return out, streamForced, nil
}
