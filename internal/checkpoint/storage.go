// internal/checkpoint/storage.go
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"reelhist/internal/storage"
)

// persistedBlob is the single per-project value written under
// history:<projectId>
type persistedBlob struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
	LastSaved   int64        `json:"last_saved"`
}

// codec compresses checkpoint blobs before they hit the store
type codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newCodec(level int) *codec {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	decoder, _ := zstd.NewReader(nil)
	return &codec{encoder: encoder, decoder: decoder}
}

func (c *codec) encode(blob persistedBlob) ([]byte, error) {
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint blob: %w", err)
	}
	return c.encoder.EncodeAll(data, nil), nil
}

func (c *codec) decode(raw []byte) (persistedBlob, error) {
	var blob persistedBlob

	data, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return blob, fmt.Errorf("decompress checkpoint blob: %w", err)
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		return blob, fmt.Errorf("unmarshal checkpoint blob: %w", err)
	}
	return blob, nil
}

// persist writes the current checkpoint list under the project's key
func (c *codec) persist(store storage.Store, projectID string, checkpoints []Checkpoint) error {
	blob := persistedBlob{
		Checkpoints: checkpoints,
		LastSaved:   time.Now().UnixMilli(),
	}

	raw, err := c.encode(blob)
	if err != nil {
		return err
	}
	return store.Set(storage.HistoryKey(projectID), raw)
}

// load reads the project's checkpoint list. Missing or corrupt data
// yields an empty list rather than an error.
func (c *codec) load(store storage.Store, projectID string) []Checkpoint {
	raw, ok := store.Get(storage.HistoryKey(projectID))
	if !ok {
		return nil
	}

	blob, err := c.decode(raw)
	if err != nil {
		return nil
	}
	return blob.Checkpoints
}

// GenerateID generates a new checkpoint ID
func GenerateID() string {
	return uuid.New().String()
}
