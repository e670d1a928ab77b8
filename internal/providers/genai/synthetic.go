package genai

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"carstudio/internal/domain"
)

const (
	syntheticWidth  = 1536
	syntheticHeight = 1024
)

// syntheticImage renders a striped placeholder whose colors derive from the
// input bytes and instruction, so identical requests give identical output.
func (c *Client) syntheticImage(source domain.Payload, instruction string) *domain.Payload {
	seed := deterministicSeed(c.model, len(source.Data), hashBytes(source.Data), instruction)
	data := renderSyntheticImage(syntheticWidth, syntheticHeight, seed)

	c.logger.Debug().
		Str("model", c.model).
		Str("seed", seed).
		Msg("genai: rendered synthetic image")

	return &domain.Payload{Data: data, MIMEType: "image/png"}
}

func renderSyntheticImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	// lower third stands in for the floor
	floor := image.Rect(0, height*2/3, width, height)
	draw.Draw(img, floor, &image.Uniform{accent}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	stripe := colorFromSeed(seed, 2)
	for y := 0; y < height*2/3; y += stripeHeight * 2 {
		r := image.Rect(0, y, width, min(height*2/3, y+stripeHeight/4))
		draw.Draw(img, r, &image.Uniform{stripe}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: parseHexByte(segment[0:2]),
		G: parseHexByte(segment[2:4]),
		B: parseHexByte(segment[4:6]),
		A: 255,
	}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:18]
}
