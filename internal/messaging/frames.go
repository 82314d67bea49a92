package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	FrameSizesHeader  = "x-frame-sizes"
	FramesContentType = "application/x-translator-frames"
)

// joinFrames packs a multipart message into a single AMQP body. The frame
// boundaries travel in the x-frame-sizes header.
func joinFrames(frames [][]byte) ([]byte, amqp.Table) {
	total := 0
	for _, f := range frames {
		total += len(f)
	}

	body := make([]byte, 0, total)
	sizes := make([]interface{}, 0, len(frames))
	for _, f := range frames {
		body = append(body, f...)
		sizes = append(sizes, int64(len(f)))
	}

	return body, amqp.Table{FrameSizesHeader: sizes}
}

// splitFrames reverses joinFrames. A body without the header is treated as a
// single JSON frame so plain publishers stay compatible.
func splitFrames(body []byte, headers amqp.Table) ([][]byte, error) {
	raw, ok := headers[FrameSizesHeader]
	if !ok {
		return [][]byte{body}, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid %s header type %T", FrameSizesHeader, raw)
	}

	frames := make([][]byte, 0, len(list))
	offset := 0
	for i, v := range list {
		size, err := headerInt(v)
		if err != nil {
			return nil, fmt.Errorf("invalid size for frame %d: %w", i, err)
		}
		if size < 0 || offset+size > len(body) {
			return nil, fmt.Errorf("frame %d of size %d overruns body of %d bytes", i, size, len(body))
		}
		frames = append(frames, body[offset:offset+size])
		offset += size
	}

	if offset != len(body) {
		return nil, fmt.Errorf("frame sizes cover %d bytes but body has %d", offset, len(body))
	}

	return frames, nil
}

func headerInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported header value %T", v)
	}
}
