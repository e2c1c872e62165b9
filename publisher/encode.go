package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/encoding"
)

// newEncoder maps a configured format name to an encoder. Empty means JSON.
func newEncoder(format string) (Encoder, error) {
	switch format {
	case "", "json":
		return jsonEncoder{}, nil
	case "msgpack":
		return msgpackEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", format)
	}
}

type jsonEncoder struct{}

func (jsonEncoder) Encode(n change.Notification) ([]byte, error) {
	return json.Marshal(n)
}

func (jsonEncoder) Name() string { return "json" }

type msgpackEncoder struct{}

func (msgpackEncoder) Encode(n change.Notification) ([]byte, error) {
	return encoding.Marshal(wireShape(n))
}

func (msgpackEncoder) Name() string { return "msgpack" }

// wireShape flattens a notification into the same envelope the JSON codec
// produces, so both formats carry identical fields.
func wireShape(n change.Notification) map[string]any {
	switch v := n.(type) {
	case *change.Created:
		return map[string]any{
			"type":  change.TypeCreate,
			"table": v.TableName,
			"data":  v.Data,
		}
	case *change.CreatedMany:
		return map[string]any{
			"type":  change.TypeCreateMany,
			"table": v.TableName,
			"data":  v.Data,
		}
	case *change.Updated:
		return map[string]any{
			"type":  change.TypeUpdate,
			"table": v.TableName,
			"id":    v.ID,
			"data":  v.Data,
		}
	case *change.Deleted:
		return map[string]any{
			"type":  change.TypeDelete,
			"table": v.TableName,
			"id":    v.ID,
		}
	default:
		return nil
	}
}
