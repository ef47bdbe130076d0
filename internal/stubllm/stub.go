package stubllm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Client is a deterministic, no-network analyzer intended for local runs and CI.
// The description depends only on the input so repeated uploads are stable.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) SourceName() string { return "Stub" }

func (c *Client) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(image)
	short := hex.EncodeToString(sum[:8])
	return fmt.Sprintf("Stubbed analysis of a %d-byte %s image (%s).", len(image), mimeType, short), nil
}
