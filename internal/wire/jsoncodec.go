package wire

/*------------------------------------------------------------------
 *
 * Purpose:	A concrete FrameCodec for the demo binary and tests.
 *
 * Description:	The wire byte layout of a frame is explicitly out of scope
 *		(§1): this package is not "the" codec, it is *a* codec, the
 *		simplest one that can stand in for the real FreeDV-modem
 *		framing so that cmd/arqdemo has something to encode/decode
 *		through (the internal/arq tests use their own jsonTestCodec
 *		of the same shape). JSON is stdlib rather
 *		than a third-party format because no codec library in the
 *		retrieval pack applies to an ad hoc struct like Frame (the
 *		pack's serialization-adjacent dependencies - yaml.v3 - are
 *		already spoken for by the speed table, and reusing it here
 *		for a line-oriented frame format would be a worse fit than
 *		the standard encoding/json).
 *
 *------------------------------------------------------------------*/

import (
	"encoding/json"
	"fmt"

	"github.com/freedata-radio/arq-engine/internal/arq"
)

// JSONCodec implements arq.FrameCodec by marshalling Frame as-is.
type JSONCodec struct{}

func (JSONCodec) Encode(f *arq.Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return b, nil
}

func (JSONCodec) Decode(b []byte) (*arq.Frame, error) {
	var f arq.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}
	return &f, nil
}
