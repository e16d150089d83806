package pairing

import "github.com/skip2/go-qrcode"

// RenderQR encodes url as a 256x256 PNG and returns the raw image bytes,
// ready to be served as an image/png response body.
func RenderQR(url string) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, 256)
}
